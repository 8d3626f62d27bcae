// Subset of https://cwe.mitre.org/data/xsd/cwe_schema_latest.xsd. Element
// names carry no namespace so that both the cwe-6 and cwe-7 schemas decode.

package cwe

type WeaknessCatalog struct {
	Name       string     `xml:"Name,attr"`
	Version    string     `xml:"Version,attr"`
	Weaknesses Weaknesses `xml:"Weaknesses"`
}

type Weaknesses struct {
	Weakness []WeaknessType `xml:"Weakness"`
}

type WeaknessType struct {
	ID          int    `xml:"ID,attr"`
	Name        string `xml:"Name,attr"`
	Status      string `xml:"Status,attr"`
	Description string `xml:"Description"`
}
