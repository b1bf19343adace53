package notify

import "strings"

var (
	appleScriptEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

	// Text lands inside a single-quoted PowerShell string holding XML.
	powerShellXMLEscaper = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"'", "''",
	)
)

func appleScriptString(s string) string {
	return `"` + appleScriptEscaper.Replace(s) + `"`
}

func powerShellXML(s string) string {
	return powerShellXMLEscaper.Replace(s)
}
