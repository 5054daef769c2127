package staticfiles

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Autoindex generates the directory-listing HTML for dirPath, shown under
// requestPath, per spec.md §4.H boundary scenario 6. Adapted from Caddy's
// caddyhttp/browse.Browse (teacher tree) down to the minimal fixed
// template original_source/src/Utils.cpp's generateAutoindex produces,
// since this spec has no template/sort-order configuration surface.
func Autoindex(dirPath, requestPath string) ([]byte, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		entries = nil
	}

	names := make([]string, 0, len(entries))
	isDir := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Name() == "." {
			continue
		}
		names = append(names, e.Name())
		isDir[e.Name()] = e.IsDir()
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	fmt.Fprintf(&b, "    <title>Index of %s</title>\n", requestPath)
	b.WriteString("    <meta charset=\"utf-8\">\n")
	b.WriteString("    <style>\n")
	b.WriteString("        body { font-family: Arial, sans-serif; margin: 40px; }\n")
	b.WriteString("        h1 { color: #333; }\n")
	b.WriteString("        hr { border: 1px solid #ddd; margin: 20px 0; }\n")
	b.WriteString("        pre { font-family: monospace; font-size: 14px; }\n")
	b.WriteString("        a { text-decoration: none; color: #0066cc; }\n")
	b.WriteString("        a:hover { text-decoration: underline; }\n")
	b.WriteString("    </style>\n</head>\n<body>\n")
	fmt.Fprintf(&b, "<h1>Index of %s</h1>\n<hr>\n<pre>\n", requestPath)

	if requestPath != "/" {
		parent := strings.TrimSuffix(requestPath, "/")
		if idx := strings.LastIndexByte(parent, '/'); idx >= 0 {
			parent = parent[:idx+1]
		} else {
			parent = "/"
		}
		fmt.Fprintf(&b, "<a href=\"%s\">../</a>\n", parent)
	}

	linkBase := requestPath
	if !strings.HasSuffix(linkBase, "/") {
		linkBase += "/"
	}
	for _, name := range names {
		link := linkBase + name
		if isDir[name] {
			fmt.Fprintf(&b, "<a href=\"%s/\">%s/</a>\n", link, name)
		} else {
			fmt.Fprintf(&b, "<a href=\"%s\">%s</a>\n", link, name)
		}
	}

	b.WriteString("</pre>\n<hr>\n</body>\n</html>")
	return []byte(b.String()), nil
}
