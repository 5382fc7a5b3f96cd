package container

import (
	"bytes"
	"encoding/xml"
	"io"
	"path"
	"strings"
)

type sheetEntry struct {
	name string
	rID  string
}

// parseWorkbookSheets returns the <sheet> entries of workbook.xml in order.
func parseWorkbookSheets(data []byte) ([]sheetEntry, error) {
	var result []sheetEntry
	decoder := xml.NewDecoder(bytes.NewReader(data))

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if se, ok := token.(xml.StartElement); ok && se.Name.Local == "sheet" {
			var e sheetEntry
			for _, attr := range se.Attr {
				switch attr.Name.Local {
				case "name":
					e.name = attr.Value
				case "id":
					e.rID = attr.Value
				}
			}
			if e.name != "" && e.rID != "" {
				result = append(result, e)
			}
		}
	}

	return result, nil
}

// parseWorkbookRels maps relationship ids to worksheet part paths.
func parseWorkbookRels(data []byte) (map[string]string, error) {
	result := make(map[string]string)
	decoder := xml.NewDecoder(bytes.NewReader(data))

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if se, ok := token.(xml.StartElement); ok && se.Name.Local == "Relationship" {
			var rID, target, relType string
			for _, attr := range se.Attr {
				switch attr.Name.Local {
				case "Id":
					rID = attr.Value
				case "Target":
					target = attr.Value
				case "Type":
					relType = attr.Value
				}
			}
			if rID != "" && strings.HasSuffix(strings.ToLower(relType), "/worksheet") {
				result[rID] = resolveRelativePath(target, "xl")
			}
		}
	}

	return result, nil
}

// resolveRelativePath turns a relationship target into a container part name.
func resolveRelativePath(target, baseDir string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Clean(baseDir + "/" + target)
}
