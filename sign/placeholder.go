package sign

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/docseal/docseal/internal/pdfinc"
)

const signatureByteRangePlaceholder = "/ByteRange[0 ********** ********** **********]"

// createSignaturePlaceholder builds the signature dictionary with reserved
// space for the byte range and the hex-encoded contents. It returns the
// object body and the body-relative offsets of the ByteRange placeholder and
// of the '<' opening the contents string.
func (c *SignContext) createSignaturePlaceholder() (body []byte, byteRangeOffset int64, contentsOffset int64) {
	var b bytes.Buffer

	if c.SignData.DocTimeStamp {
		b.WriteString("<< /Type /DocTimeStamp")
		b.WriteString(" /Filter /Adobe.PPKLite")
		b.WriteString(" /SubFilter /ETSI.RFC3161")
	} else {
		b.WriteString("<< /Type /Sig")
		b.WriteString(" /Filter /Adobe.PPKLite")
		b.WriteString(" /SubFilter /adbe.pkcs7.detached")
	}

	byteRangeOffset = int64(b.Len()) + 1
	b.WriteString(" " + signatureByteRangePlaceholder)

	contentsOffset = int64(b.Len()) + 10 // position of '<'
	b.WriteString(" /Contents<")
	b.Write(bytes.Repeat([]byte("0"), int(c.maxHexLength)))
	b.WriteString(">")

	if !c.SignData.DocTimeStamp {
		if c.SignData.Info.Name != "" {
			b.WriteString(" /Name ")
			b.WriteString(pdfString(c.SignData.Info.Name))
		}
		if c.SignData.Info.Location != "" {
			b.WriteString(" /Location ")
			b.WriteString(pdfString(c.SignData.Info.Location))
		}
		if c.SignData.Info.Reason != "" {
			b.WriteString(" /Reason ")
			b.WriteString(pdfString(c.SignData.Info.Reason))
		}
		if c.SignData.Info.ContactInfo != "" {
			b.WriteString(" /ContactInfo ")
			b.WriteString(pdfString(c.SignData.Info.ContactInfo))
		}
		b.WriteString(" /M ")
		b.WriteString(pdfDateTime(c.SignData.Info.Date))
	}

	b.WriteString(" >>")

	return b.Bytes(), byteRangeOffset, contentsOffset
}

// createSignatureField builds an invisible signature widget on the first
// page holding the signature dictionary as its value.
func (c *SignContext) createSignatureField(signatureID uint32) ([]byte, error) {
	root := c.PDFReader.Trailer().Key("Root")
	firstPage, err := findFirstPage(root.Key("Pages"))
	if err != nil {
		return nil, err
	}
	pagePtr := firstPage.GetPtr()

	name := "Signature-" + strconv.Itoa(len(c.existingFieldRefs())+1)

	var b bytes.Buffer
	b.WriteString("<< /Type /Annot")
	b.WriteString(" /Subtype /Widget")
	b.WriteString(" /Rect [0 0 0 0]") // invisible
	b.WriteString(" /FT /Sig")
	b.WriteString(" /T " + pdfString(name))
	b.WriteString(" /F 132") // hidden from print and view, locked
	fmt.Fprintf(&b, " /P %d %d R", pagePtr.GetID(), pagePtr.GetGen())
	fmt.Fprintf(&b, " /V %d 0 R", signatureID)
	b.WriteString(" >>")

	return b.Bytes(), nil
}

// existingFieldRefs collects the indirect references already present in the
// document's AcroForm, so the new catalog keeps them.
func (c *SignContext) existingFieldRefs() []pdfinc.Ref {
	fields := c.PDFReader.Trailer().Key("Root").Key("AcroForm").Key("Fields")
	if fields.IsNull() {
		return nil
	}

	var refs []pdfinc.Ref
	for i := 0; i < fields.Len(); i++ {
		ptr := fields.Index(i).GetPtr()
		if ptr.GetID() > 0 {
			refs = append(refs, pdfinc.Ref{ID: ptr.GetID(), Gen: uint32(ptr.GetGen())})
		}
	}
	return refs
}

// createCatalog rewrites the document catalog with an AcroForm carrying the
// existing fields plus the new signature field, and signature flags marking
// the document as signed and append-only.
func (c *SignContext) createCatalog(fieldRef pdfinc.Ref) ([]byte, error) {
	root := c.PDFReader.Trailer().Key("Root")

	var b bytes.Buffer
	b.WriteString("<< /Type /Catalog")

	if pages := root.Key("Pages"); !pages.IsNull() {
		ptr := pages.GetPtr()
		fmt.Fprintf(&b, " /Pages %d %d R", ptr.GetID(), ptr.GetGen())
	}
	if names := root.Key("Names"); !names.IsNull() {
		ptr := names.GetPtr()
		fmt.Fprintf(&b, " /Names %d %d R", ptr.GetID(), ptr.GetGen())
	}

	b.WriteString(" /AcroForm << /Fields [")
	for _, ref := range c.existingFieldRefs() {
		b.WriteString(ref.String() + " ")
	}
	b.WriteString(fieldRef.String())
	b.WriteString("] /SigFlags 3 >>")

	b.WriteString(" >>")
	return b.Bytes(), nil
}
