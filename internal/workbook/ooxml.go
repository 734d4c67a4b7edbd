package workbook

import (
	"fmt"
	"strings"
)

// SheetCatalog maps worksheet names to their archive part paths, in
// workbook order.
type SheetCatalog struct {
	Order      []string
	PathByName map[string]string
}

// LoadSheetCatalog reads xl/workbook.xml and its relationships to resolve
// each sheet's part path.
func LoadSheetCatalog(c *Container) (*SheetCatalog, error) {
	workbookXML, err := c.ReadText("xl/workbook.xml")
	if err != nil {
		return nil, err
	}
	relsXML, err := c.ReadText("xl/_rels/workbook.xml.rels")
	if err != nil {
		return nil, err
	}
	ridToTarget := parseRelationshipTargets(relsXML)
	catalog := &SheetCatalog{PathByName: map[string]string{}}
	for _, tag := range iterStartTags(workbookXML, "sheet") {
		name, ok := ExtractAttr(tag, "name")
		if !ok {
			continue
		}
		rid, ok := ExtractAttr(tag, "r:id")
		if !ok {
			continue
		}
		target, ok := ridToTarget[rid]
		if !ok {
			continue
		}
		catalog.Order = append(catalog.Order, name)
		catalog.PathByName[name] = resolveTarget("xl/workbook.xml", target)
	}
	if len(catalog.PathByName) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidFormat)
	}
	return catalog, nil
}

// LoadSharedStrings reads the shared-string table. A workbook without one
// yields an empty table.
func LoadSharedStrings(c *Container) ([]string, error) {
	if !c.HasPart("xl/sharedStrings.xml") {
		return nil, nil
	}
	xml, err := c.ReadText("xl/sharedStrings.xml")
	if err != nil {
		return nil, err
	}
	return parseSharedStrings(xml), nil
}

func parseRelationshipTargets(relsXML string) map[string]string {
	out := map[string]string{}
	for _, tag := range iterStartTags(relsXML, "Relationship") {
		id, ok := ExtractAttr(tag, "Id")
		if !ok {
			continue
		}
		target, ok := ExtractAttr(tag, "Target")
		if !ok {
			continue
		}
		out[id] = target
	}
	return out
}

// parseSharedStrings concatenates the <t> runs of each <si> so rich-text
// strings read as one value.
func parseSharedStrings(xml string) []string {
	var out []string
	cursor := 0
	for {
		siStart := FindStartTag(xml, "si", cursor)
		if siStart < 0 {
			break
		}
		siTagEnd := TagEnd(xml, siStart)
		if siTagEnd < 0 {
			break
		}
		bodyStart := siTagEnd + 1
		siEnd := FindEndTag(xml, "si", bodyStart)
		if siEnd < 0 {
			break
		}
		text, _ := AllTagText(xml[bodyStart:siEnd], "t")
		out = append(out, DecodeEntities(text))
		cursor = siEnd + len("</si>")
	}
	return out
}

func iterStartTags(xml, tagName string) []string {
	var out []string
	cursor := 0
	for {
		start := FindStartTag(xml, tagName, cursor)
		if start < 0 {
			break
		}
		end := TagEnd(xml, start)
		if end < 0 {
			break
		}
		out = append(out, xml[start:end+1])
		cursor = end + 1
	}
	return out
}

// resolveTarget resolves a relationship target against the part that
// declares it, collapsing "." and ".." segments.
func resolveTarget(baseFile, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	base := ""
	if idx := strings.LastIndexByte(baseFile, '/'); idx >= 0 {
		base = baseFile[:idx]
	}
	var parts []string
	if base != "" {
		parts = strings.Split(base, "/")
	}
	for _, seg := range strings.Split(target, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, "/")
}
