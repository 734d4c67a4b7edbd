package workbook

import (
	"strconv"
	"strings"
)

// UpdateFilterDatabaseDefinedName rewrites the _xlnm._FilterDatabase
// defined name that points at the given sheet so the auto-filter covers
// rows dataStartRow..dataEndRow up to dataEndCol. Workbooks without a
// matching defined name pass through unchanged.
func UpdateFilterDatabaseDefinedName(workbookXML, sheetName string, dataStartRow, dataEndRow, dataEndCol int) string {
	if dataEndCol < 1 {
		dataEndCol = 1
	}
	start, end, ok := filterDatabaseContentRange(workbookXML, sheetName)
	if !ok {
		return workbookXML
	}
	replacement := sheetName + "!$A$" + strconv.Itoa(dataStartRow) +
		":$" + ColName(dataEndCol) + "$" + strconv.Itoa(dataEndRow)
	return workbookXML[:start] + replacement + workbookXML[end:]
}

func filterDatabaseContentRange(workbookXML, sheetName string) (int, int, bool) {
	const marker = "_xlnm._FilterDatabase"
	cursor := 0
	for {
		rel := strings.Index(workbookXML[cursor:], "<definedName")
		if rel < 0 {
			return 0, 0, false
		}
		openPos := cursor + rel
		openEnd := TagEnd(workbookXML, openPos)
		if openEnd < 0 {
			return 0, 0, false
		}
		openTag := workbookXML[openPos : openEnd+1]
		if !strings.Contains(openTag, `name="`+marker+`"`) &&
			!strings.Contains(openTag, `name='`+marker+`'`) {
			cursor = openEnd + 1
			continue
		}
		contentStart := openEnd + 1
		closeRel := strings.Index(workbookXML[contentStart:], "</definedName>")
		if closeRel < 0 {
			return 0, 0, false
		}
		contentEnd := contentStart + closeRel
		content := workbookXML[contentStart:contentEnd]
		if strings.Contains(content, sheetName+"!") ||
			strings.Contains(content, "'"+sheetName+"'!") {
			return contentStart, contentEnd, true
		}
		cursor = contentEnd + len("</definedName>")
	}
}
