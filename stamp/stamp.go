// Package stamp draws a signature image onto PDF pages as a best-effort
// visual overlay. The overlay is purely cosmetic and carries no cryptographic
// weight, so any failure here leaves the document untouched.
package stamp

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/digitorus/pdf"
	"go.uber.org/zap"

	"github.com/docseal/docseal/internal/pdfinc"
)

// AllPages selects every page of the document.
const AllPages = -1

// screenToPointRatio converts pixel dimensions measured at 96 DPI to PDF
// points at 72 DPI.
const screenToPointRatio = 72.0 / 96.0

// Placement positions the stamp on the page. Coordinates are in PDF points
// with the origin at the bottom-left corner. A zero width or height derives
// the missing dimension from the image pixel size.
type Placement struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
	Page   int
}

// Engine applies a visual stamp to documents. A nil engine or an engine
// without an image path is a no-op.
type Engine struct {
	imagePath string
	placement Placement
	log       *zap.Logger
}

func NewEngine(imagePath string, placement Placement, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{imagePath: imagePath, placement: placement, log: log}
}

// Apply overlays the stamp image and returns the updated document. On any
// failure the original document is returned unchanged, since a missing
// visual stamp must never block signing.
func (e *Engine) Apply(doc []byte) []byte {
	stamped, _ := e.TryApply(doc)
	return stamped
}

// TryApply is Apply with an extra boolean reporting whether the stamp was
// actually drawn.
func (e *Engine) TryApply(doc []byte) ([]byte, bool) {
	if e == nil || e.imagePath == "" {
		return doc, false
	}

	stamped, err := e.apply(doc)
	if err != nil {
		e.log.Warn("visual stamp skipped",
			zap.String("image", e.imagePath),
			zap.Error(err))
		return doc, false
	}
	return stamped, true
}

func (e *Engine) apply(doc []byte) ([]byte, error) {
	imageData, pxWidth, pxHeight, err := loadStampImage(e.imagePath)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(doc)
	rdr, err := pdf.NewReader(r, int64(len(doc)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	updater, err := pdfinc.New(r, rdr)
	if err != nil {
		return nil, err
	}

	imageID, _, err := updater.AddObject(imageXObject(imageData, pxWidth, pxHeight))
	if err != nil {
		return nil, fmt.Errorf("failed to add image object: %w", err)
	}

	width := e.placement.Width
	if width <= 0 {
		width = float64(pxWidth) * screenToPointRatio
	}
	height := e.placement.Height
	if height <= 0 {
		height = float64(pxHeight) * screenToPointRatio
	}

	formID, _, err := updater.AddObject(appearanceForm(imageID, width, height))
	if err != nil {
		return nil, fmt.Errorf("failed to add appearance object: %w", err)
	}

	numPages := rdr.NumPage()
	for _, pageNum := range targetPages(e.placement.Page, numPages) {
		page, err := findPage(rdr, pageNum)
		if err != nil {
			return nil, err
		}
		if err := e.stampPage(updater, page, formID, width, height); err != nil {
			return nil, fmt.Errorf("failed to stamp page %d: %w", pageNum, err)
		}
	}

	// The catalog is unchanged, keep the previous root.
	rootPtr := rdr.Trailer().Key("Root").GetPtr()
	root := pdfinc.Ref{ID: rootPtr.GetID(), Gen: uint32(rootPtr.GetGen())}
	if err := updater.Finalize(root); err != nil {
		return nil, err
	}

	return updater.Bytes()
}

// targetPages resolves the configured page selector against the actual page
// count. Out of range values clamp to the nearest page instead of failing.
func targetPages(selector, numPages int) []int {
	if selector == AllPages {
		pages := make([]int, numPages)
		for i := range pages {
			pages[i] = i + 1
		}
		return pages
	}

	if selector < 1 {
		selector = 1
	}
	if selector > numPages {
		selector = numPages
	}
	return []int{selector}
}

func (e *Engine) stampPage(updater *pdfinc.Updater, page pdf.Value, formID uint32, width, height float64) error {
	mb := [4]float64{0, 0, 612, 792}
	mediaBox := page.Key("MediaBox")
	if mediaBox.Kind() == pdf.Array && mediaBox.Len() >= 4 {
		for i := 0; i < 4; i++ {
			mb[i] = mediaBox.Index(i).Float64()
		}
	}

	x := mb[0] + e.placement.X
	y := mb[1] + e.placement.Y

	ptr := page.GetPtr()

	var annot bytes.Buffer
	annot.WriteString("<<\n")
	annot.WriteString("  /Type /Annot\n")
	annot.WriteString("  /Subtype /Stamp\n")
	fmt.Fprintf(&annot, "  /Rect [%.2f %.2f %.2f %.2f]\n", x, y, x+width, y+height)
	annot.WriteString("  /F 4\n")
	fmt.Fprintf(&annot, "  /AP << /N %d 0 R >>\n", formID)
	fmt.Fprintf(&annot, "  /P %d %d R\n", ptr.GetID(), ptr.GetGen())
	annot.WriteString(">>")

	annotID, _, err := updater.AddObject(annot.Bytes())
	if err != nil {
		return err
	}

	return addAnnotToPage(updater, page, annotID)
}

// resolveImagePath tries the configured path as given and falls back to the
// directory holding the running binary. Deployments commonly ship the stamp
// image next to the executable while the config carries a bare filename.
func resolveImagePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	exe, err := os.Executable()
	if err != nil {
		return path
	}
	candidate := filepath.Join(filepath.Dir(exe), path)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}

// loadStampImage reads the stamp image and returns JPEG data plus the pixel
// dimensions. Non-JPEG images are re-encoded, flattened onto white since
// JPEG has no alpha channel.
func loadStampImage(path string) (data []byte, width, height int, err error) {
	raw, err := os.ReadFile(resolveImagePath(path))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read stamp image: %w", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode stamp image: %w", err)
	}

	if format == "jpeg" {
		return raw, cfg.Width, cfg.Height, nil
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode stamp image: %w", err)
	}

	bounds := img.Bounds()
	flat := image.NewRGBA(bounds)
	draw.Draw(flat, bounds, image.White, image.Point{}, draw.Src)
	draw.Draw(flat, bounds, img, bounds.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: 90}); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode stamp image: %w", err)
	}
	return buf.Bytes(), cfg.Width, cfg.Height, nil
}

func imageXObject(imageData []byte, width, height int) []byte {
	var b bytes.Buffer
	b.WriteString("<<\n")
	b.WriteString("  /Type /XObject\n")
	b.WriteString("  /Subtype /Image\n")
	fmt.Fprintf(&b, "  /Width %d\n", width)
	fmt.Fprintf(&b, "  /Height %d\n", height)
	b.WriteString("  /ColorSpace /DeviceRGB\n")
	b.WriteString("  /BitsPerComponent 8\n")
	b.WriteString("  /Filter /DCTDecode\n")
	fmt.Fprintf(&b, "  /Length %d\n", len(imageData))
	b.WriteString(">>\n")
	b.WriteString("stream\n")
	b.Write(imageData)
	b.WriteString("\nendstream")
	return b.Bytes()
}

func appearanceForm(imageID uint32, width, height float64) []byte {
	var stream bytes.Buffer
	// Save state twice on purpose due to the cm operation.
	stream.WriteString("q\n")
	stream.WriteString("q\n")
	fmt.Fprintf(&stream, "%.2f 0 0 %.2f 0 0 cm\n", width, height)
	stream.WriteString("/Im1 Do\n")
	stream.WriteString("Q\n")
	stream.WriteString("Q\n")

	var b bytes.Buffer
	b.WriteString("<<\n")
	b.WriteString("  /Type /XObject\n")
	b.WriteString("  /Subtype /Form\n")
	fmt.Fprintf(&b, "  /BBox [0 0 %f %f]\n", width, height)
	b.WriteString("  /Matrix [1 0 0 1 0 0]\n")
	b.WriteString("  /Resources <<\n")
	b.WriteString("   /XObject <<\n")
	fmt.Fprintf(&b, "     /Im1 %d 0 R\n", imageID)
	b.WriteString("   >>\n")
	b.WriteString("  >>\n")
	b.WriteString("  /FormType 1\n")
	fmt.Fprintf(&b, "  /Length %d\n", stream.Len())
	b.WriteString(">>\n")
	b.WriteString("stream\n")
	b.Write(stream.Bytes())
	b.WriteString("endstream")
	return b.Bytes()
}
