package extract

// plainTextFiletypes is the allowlist of file types decoded directly as
// text. Anything else (images, archives, binaries) is skipped.
var plainTextFiletypes = map[string]bool{
	"text":       true,
	"c":          true,
	"cpp":        true,
	"csharp":     true,
	"css":        true,
	"csv":        true,
	"diff":       true,
	"dockerfile": true,
	"go":         true,
	"html":       true,
	"java":       true,
	"javascript": true,
	"json":       true,
	"kotlin":     true,
	"latex":      true,
	"markdown":   true,
	"perl":       true,
	"php":        true,
	"python":     true,
	"r":          true,
	"ruby":       true,
	"rust":       true,
	"shell":      true,
	"sql":        true,
	"swift":      true,
	"tsv":        true,
	"xml":        true,
	"yaml":       true,
}

// PlainTextFiletype reports whether filetype is decodable as plain text.
func PlainTextFiletype(filetype string) bool {
	return plainTextFiletypes[filetype]
}
