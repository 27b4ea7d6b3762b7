package governance

import "strings"

// likeEscaper escapes the LIKE wildcards and the escape character itself.
// Queries using the result must declare ESCAPE '\'.
var likeEscaper = strings.NewReplacer(
	`\`, `\\`,
	`%`, `\%`,
	`_`, `\_`,
)

// EscapeLike neutralizes user-supplied search terms for LIKE patterns.
func EscapeLike(term string) string {
	return likeEscaper.Replace(term)
}

// csvDangerousLead are the characters spreadsheets interpret as formula
// starts when they open an exported file.
const csvDangerousLead = "=+-@\t\r"

// DefuseCSVCell prefixes formula-leading cells with a single quote so the
// cell renders as text.
func DefuseCSVCell(cell string) string {
	if cell == "" {
		return cell
	}
	if strings.ContainsRune(csvDangerousLead, rune(cell[0])) {
		return "'" + cell
	}
	return cell
}

// DefuseCSVRow applies DefuseCSVCell to every cell in place and returns
// the row.
func DefuseCSVRow(cells []string) []string {
	for i, cell := range cells {
		cells[i] = DefuseCSVCell(cell)
	}
	return cells
}
