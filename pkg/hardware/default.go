package hardware

// Default returns the built-in capability table.
func Default() *Catalog {
	return &Catalog{
		serial: []Signature{
			{ID: ID{0x1209, 0x2301}, Vendor: "Keyboardio", Product: "Model01", DisplayName: "Keyboardio Model 01"},
			{ID: ID{0x1209, 0x2303}, Vendor: "Keyboardio", Product: "Atreus", DisplayName: "Keyboardio Atreus"},
			{ID: ID{0x1209, 0x2201}, Vendor: "Dygma", Product: "Raise", DisplayName: "Dygma Raise", FirmwarePrefix: "v"},
		},
		bus: []Signature{
			{ID: ID{0x1209, 0x2300}, Vendor: "Keyboardio", Product: "Model01", DisplayName: "Keyboardio Model 01 (bootloader)", Bootloader: true},
			{ID: ID{0x1209, 0x2302}, Vendor: "Keyboardio", Product: "Atreus", DisplayName: "Keyboardio Atreus (bootloader)", Bootloader: true},
			{ID: ID{0x1209, 0x2200}, Vendor: "Dygma", Product: "Raise", DisplayName: "Dygma Raise (bootloader)", Bootloader: true},
		},
	}
}
