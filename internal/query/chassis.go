package query

// ChassisSpec maps an enthusiast chassis code to the vehicle it names.
type ChassisSpec struct {
	Make    string
	Model   string
	YearMin int
	YearMax int
	Variant string
}

// chassisCodes is a fixed lookup table. Codes are matched case-insensitively
// as whole tokens.
var chassisCodes = map[string]ChassisSpec{
	// Honda
	"EF8": {Make: "Honda", Model: "Civic", YearMin: 1989, YearMax: 1991, Variant: "CRX SiR"},
	"EG6": {Make: "Honda", Model: "Civic", YearMin: 1992, YearMax: 1995, Variant: "SiR hatchback"},
	"EK9": {Make: "Honda", Model: "Civic", YearMin: 1997, YearMax: 2000, Variant: "Type R"},
	"EP3": {Make: "Honda", Model: "Civic", YearMin: 2001, YearMax: 2005, Variant: "Si/Type R"},
	"FD2": {Make: "Honda", Model: "Civic", YearMin: 2007, YearMax: 2011, Variant: "Type R sedan"},
	"FK8": {Make: "Honda", Model: "Civic", YearMin: 2017, YearMax: 2021, Variant: "Type R"},
	"FL5": {Make: "Honda", Model: "Civic", YearMin: 2022, YearMax: 2025, Variant: "Type R"},
	"DC2": {Make: "Acura", Model: "Integra", YearMin: 1994, YearMax: 2001, Variant: "Type R"},
	"DC5": {Make: "Acura", Model: "RSX", YearMin: 2002, YearMax: 2006, Variant: "Type S"},
	"AP1": {Make: "Honda", Model: "S2000", YearMin: 1999, YearMax: 2003},
	"AP2": {Make: "Honda", Model: "S2000", YearMin: 2004, YearMax: 2009},
	"NA1": {Make: "Acura", Model: "NSX", YearMin: 1990, YearMax: 1997},

	// Toyota
	"AE86": {Make: "Toyota", Model: "Corolla", YearMin: 1983, YearMax: 1987, Variant: "GT-S"},
	"JZA80": {Make: "Toyota", Model: "Supra", YearMin: 1993, YearMax: 1998, Variant: "Mk4"},
	"A90":  {Make: "Toyota", Model: "Supra", YearMin: 2019, YearMax: 2025, Variant: "Mk5"},
	"SW20": {Make: "Toyota", Model: "MR2", YearMin: 1990, YearMax: 1999},
	"ZN6":  {Make: "Toyota", Model: "86", YearMin: 2012, YearMax: 2020},

	// Nissan
	"S13": {Make: "Nissan", Model: "240SX", YearMin: 1989, YearMax: 1994},
	"S14": {Make: "Nissan", Model: "240SX", YearMin: 1995, YearMax: 1998},
	"S15": {Make: "Nissan", Model: "Silvia", YearMin: 1999, YearMax: 2002},
	"R32": {Make: "Nissan", Model: "Skyline", YearMin: 1989, YearMax: 1994, Variant: "GT-R"},
	"R33": {Make: "Nissan", Model: "Skyline", YearMin: 1995, YearMax: 1998, Variant: "GT-R"},
	"R34": {Make: "Nissan", Model: "Skyline", YearMin: 1999, YearMax: 2002, Variant: "GT-R"},
	"R35": {Make: "Nissan", Model: "GT-R", YearMin: 2009, YearMax: 2024},
	"Z32": {Make: "Nissan", Model: "300ZX", YearMin: 1990, YearMax: 1996},
	"Z33": {Make: "Nissan", Model: "350Z", YearMin: 2003, YearMax: 2008},
	"Z34": {Make: "Nissan", Model: "370Z", YearMin: 2009, YearMax: 2020},

	// Mazda
	"NA6": {Make: "Mazda", Model: "MX-5 Miata", YearMin: 1990, YearMax: 1993},
	"NA8": {Make: "Mazda", Model: "MX-5 Miata", YearMin: 1994, YearMax: 1997},
	"NB8": {Make: "Mazda", Model: "MX-5 Miata", YearMin: 1998, YearMax: 2005},
	"NC":  {Make: "Mazda", Model: "MX-5 Miata", YearMin: 2006, YearMax: 2015},
	"ND":  {Make: "Mazda", Model: "MX-5 Miata", YearMin: 2016, YearMax: 2025},
	"FD3S": {Make: "Mazda", Model: "RX-7", YearMin: 1993, YearMax: 2002},

	// Subaru / Mitsubishi
	"GC8": {Make: "Subaru", Model: "Impreza", YearMin: 1993, YearMax: 2001, Variant: "WRX/STI"},
	"GD":  {Make: "Subaru", Model: "Impreza", YearMin: 2002, YearMax: 2007, Variant: "WRX/STI"},
	"VA":  {Make: "Subaru", Model: "WRX", YearMin: 2015, YearMax: 2021},
	"CT9A": {Make: "Mitsubishi", Model: "Lancer Evolution", YearMin: 2003, YearMax: 2006},
	"CZ4A": {Make: "Mitsubishi", Model: "Lancer Evolution", YearMin: 2008, YearMax: 2015, Variant: "X"},

	// BMW
	"E30": {Make: "BMW", Model: "3 Series", YearMin: 1984, YearMax: 1991},
	"E36": {Make: "BMW", Model: "3 Series", YearMin: 1992, YearMax: 1999},
	"E46": {Make: "BMW", Model: "3 Series", YearMin: 2000, YearMax: 2006},
	"E90": {Make: "BMW", Model: "3 Series", YearMin: 2006, YearMax: 2011},
	"E92": {Make: "BMW", Model: "M3", YearMin: 2008, YearMax: 2013},
	"F80": {Make: "BMW", Model: "M3", YearMin: 2014, YearMax: 2018},
	"G80": {Make: "BMW", Model: "M3", YearMin: 2021, YearMax: 2025},
	"E39": {Make: "BMW", Model: "5 Series", YearMin: 1996, YearMax: 2003},

	// Mercedes-Benz
	"W204": {Make: "Mercedes-Benz", Model: "C-Class", YearMin: 2008, YearMax: 2014},
	"W205": {Make: "Mercedes-Benz", Model: "C-Class", YearMin: 2015, YearMax: 2021},
	"R230": {Make: "Mercedes-Benz", Model: "SL-Class", YearMin: 2003, YearMax: 2011},

	// Volkswagen / Porsche
	"MK4": {Make: "Volkswagen", Model: "Golf", YearMin: 1999, YearMax: 2005},
	"MK7": {Make: "Volkswagen", Model: "Golf", YearMin: 2015, YearMax: 2021},
	"997": {Make: "Porsche", Model: "911", YearMin: 2005, YearMax: 2012},
	"991": {Make: "Porsche", Model: "911", YearMin: 2012, YearMax: 2019},
	"987": {Make: "Porsche", Model: "Cayman", YearMin: 2006, YearMax: 2012},
}

// LookupChassis resolves a token as a chassis code.
func LookupChassis(token string) (ChassisSpec, bool) {
	spec, ok := chassisCodes[normalizeToken(token)]
	return spec, ok
}
