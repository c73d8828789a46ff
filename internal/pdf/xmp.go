package pdf

import (
	"bytes"
	"encoding/xml"
	"sort"
	"strings"
)

// xmpPacket renders the metadata as an XMP packet: the standard fields as
// Dublin Core, every scan property as a pdfx custom property. Nil when
// there is nothing to write beyond the info dictionary.
func xmpPacket(meta Metadata) []byte {
	if len(meta.Properties) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.WriteString(`<?xpacket begin="` + "\ufeff" + `" id="W5M0MpCehiHzreSzNTczkc9d"?>` + "\n")
	buf.WriteString(`<x:xmpmeta xmlns:x="adobe:ns:meta/">` + "\n")
	buf.WriteString(`<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">` + "\n")
	buf.WriteString(`<rdf:Description rdf:about="" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:pdfx="http://ns.adobe.com/pdfx/1.3/">` + "\n")

	if meta.Title != "" {
		writeAlt(&buf, "dc:title", meta.Title)
	}
	if meta.Author != "" {
		writeSeq(&buf, "dc:creator", meta.Author)
	}
	if meta.Subject != "" {
		writeAlt(&buf, "dc:description", meta.Subject)
	}
	if meta.Language != "" {
		writeElement(&buf, "dc:language", meta.Language)
	}

	keys := make([]string, 0, len(meta.Properties))
	for k := range meta.Properties {
		if validName(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeElement(&buf, "pdfx:"+k, meta.Properties[k])
	}

	buf.WriteString("</rdf:Description>\n</rdf:RDF>\n</x:xmpmeta>\n")
	buf.WriteString(`<?xpacket end="w"?>`)
	return buf.Bytes()
}

func writeElement(buf *bytes.Buffer, name, value string) {
	buf.WriteString("<" + name + ">")
	xml.EscapeText(buf, []byte(value))
	buf.WriteString("</" + name + ">\n")
}

func writeAlt(buf *bytes.Buffer, name, value string) {
	buf.WriteString("<" + name + "><rdf:Alt><rdf:li xml:lang=\"x-default\">")
	xml.EscapeText(buf, []byte(value))
	buf.WriteString("</rdf:li></rdf:Alt></" + name + ">\n")
}

func writeSeq(buf *bytes.Buffer, name, value string) {
	buf.WriteString("<" + name + "><rdf:Seq><rdf:li>")
	xml.EscapeText(buf, []byte(value))
	buf.WriteString("</rdf:li></rdf:Seq></" + name + ">\n")
}

// validName reports whether k can be used as an XML element name.
func validName(k string) bool {
	if k == "" || strings.ContainsAny(k, ":") {
		return false
	}
	for i, r := range k {
		letter := r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
		if i == 0 && !letter {
			return false
		}
		if !letter && r != '-' && r != '.' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
