package stamp

import (
	"bytes"
	"fmt"

	"github.com/digitorus/pdf"

	"github.com/docseal/docseal/internal/pdfinc"
)

// findPage walks the page tree and returns the page with the given 1-based
// number.
func findPage(rdr *pdf.Reader, pageNum int) (pdf.Value, error) {
	pages := rdr.Trailer().Key("Root").Key("Pages")
	page, _, err := findPageRec(pages, pageNum)
	if err != nil {
		return pdf.Value{}, err
	}
	if page.Kind() == 0 {
		return pdf.Value{}, fmt.Errorf("page %d not found", pageNum)
	}
	return page, nil
}

func findPageRec(node pdf.Value, pageNum int) (pdf.Value, int, error) {
	nodeType := node.Key("Type").Name()
	if nodeType == "Page" {
		if pageNum == 1 {
			return node, 0, nil
		}
		return pdf.Value{}, pageNum - 1, nil
	}

	if nodeType == "Pages" {
		kids := node.Key("Kids")
		if kids.Kind() == pdf.Array {
			for i := 0; i < kids.Len(); i++ {
				page, remaining, err := findPageRec(kids.Index(i), pageNum)
				if err != nil {
					return pdf.Value{}, 0, err
				}
				if page.Kind() != 0 {
					return page, 0, nil
				}
				pageNum = remaining
			}
		}
	}
	return pdf.Value{}, pageNum, nil
}

// addAnnotToPage rewrites the page dictionary with the annotation appended
// to its Annots array. Every other key is carried over, indirect references
// staying indirect.
func addAnnotToPage(updater *pdfinc.Updater, page pdf.Value, annotID uint32) error {
	var buf bytes.Buffer
	buf.WriteString("<<\n")

	for _, key := range page.Keys() {
		// Annots is rebuilt below, Type is forced to /Page.
		if key == "Annots" || key == "Type" {
			continue
		}

		val := page.Key(key)
		fmt.Fprintf(&buf, "  /%s ", key)

		if val.Kind() == pdf.Array {
			buf.WriteString("[")
			for i := 0; i < val.Len(); i++ {
				v := val.Index(i)
				ptr := v.GetPtr()
				if ptr.GetID() > 0 {
					fmt.Fprintf(&buf, " %d %d R", ptr.GetID(), ptr.GetGen())
				} else {
					fmt.Fprintf(&buf, " %v", v.Float64())
				}
			}
			buf.WriteString(" ]\n")
		} else {
			ptr := val.GetPtr()
			if ptr.GetID() > 0 {
				fmt.Fprintf(&buf, "%d %d R\n", ptr.GetID(), ptr.GetGen())
			} else {
				str := val.String()
				if val.Kind() == pdf.Name {
					str = "/" + val.Name()
				}
				buf.WriteString(str + "\n")
			}
		}
	}

	buf.WriteString("  /Type /Page\n")

	buf.WriteString("  /Annots [")
	annots := page.Key("Annots")
	if annots.Kind() == pdf.Array {
		for i := 0; i < annots.Len(); i++ {
			ptr := annots.Index(i).GetPtr()
			if ptr.GetID() > 0 {
				fmt.Fprintf(&buf, " %d %d R", ptr.GetID(), ptr.GetGen())
			}
		}
	} else if annots.Kind() != 0 {
		ptr := annots.GetPtr()
		if ptr.GetID() > 0 {
			fmt.Fprintf(&buf, " %d %d R", ptr.GetID(), ptr.GetGen())
		}
	}
	fmt.Fprintf(&buf, " %d 0 R", annotID)
	buf.WriteString(" ]\n")

	buf.WriteString(">>")

	ptr := page.GetPtr()
	return updater.UpdateObject(ptr.GetID(), buf.Bytes())
}
