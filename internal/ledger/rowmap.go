package ledger

import "sort"

// shiftRow moves a row number by the net growth or shrink of the data
// band, clamping at row 1.
func shiftRow(row, increase, decrease int) int {
	if increase > 0 {
		return row + increase
	}
	shifted := row - decrease
	if shifted < 1 {
		return 1
	}
	return shifted
}

// rowMapper translates pre-rebuild row numbers to their post-rebuild
// positions. Rows inside the old data band compact upward past deleted
// rows; rows below the band shift by the net size change; rows above
// stay put.
type rowMapper struct {
	hasOldRows   bool
	dataStartRow int
	oldEndRow    int
	deletedRows  []int
	increase     int
	decrease     int
}

func (m *rowMapper) mapRow(oldRefRow int) int {
	if m.hasOldRows && oldRefRow >= m.dataStartRow && oldRefRow <= m.oldEndRow {
		return oldRefRow - countDeletedLE(m.deletedRows, oldRefRow)
	}
	if oldRefRow > m.oldEndRow {
		return shiftRow(oldRefRow, m.increase, m.decrease)
	}
	return oldRefRow
}

func (m *rowMapper) shift(row int) int {
	return shiftRow(row, m.increase, m.decrease)
}

// countDeletedLE counts deleted rows at or before row. deletedRows must
// be sorted ascending.
func countDeletedLE(deletedRows []int, row int) int {
	return sort.SearchInts(deletedRows, row+1)
}
