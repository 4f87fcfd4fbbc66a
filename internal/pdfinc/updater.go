// Package pdfinc appends incremental updates to an existing PDF file.
//
// A PDF incremental update leaves every original byte in place and adds new
// or replacement objects after the previous %%EOF, followed by a
// cross-reference section and trailer pointing back at the previous one.
// Both the visual stamp pass and the signature pass are written this way, so
// the original document content stays byte-for-byte intact.
package pdfinc

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/digitorus/pdf"
	"github.com/mattetti/filebuffer"
)

// Ref identifies an indirect PDF object.
type Ref struct {
	ID  uint32
	Gen uint32
}

func (r Ref) String() string {
	return fmt.Sprintf("%d %d R", r.ID, r.Gen)
}

// XrefEntry records the byte offset of an object written by the updater.
type XrefEntry struct {
	ID     uint32
	Offset int64
}

// Updater builds a single incremental update section on top of a parsed PDF.
type Updater struct {
	rdr   *pdf.Reader
	input io.ReadSeeker
	buf   *filebuffer.Buffer

	nextID         uint32
	newEntries     []XrefEntry
	updatedEntries []XrefEntry
	xrefStart      int64
	finalized      bool
}

// New copies the source document into a working buffer and prepares it for
// appending objects. The reader must be the pdf.Reader for the same input.
func New(input io.ReadSeeker, rdr *pdf.Reader) (*Updater, error) {
	buf := filebuffer.New([]byte{})

	if _, err := input.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.Copy(buf, input); err != nil {
		return nil, err
	}

	// File always needs an empty line after %%EOF.
	if _, err := buf.Write([]byte("\n")); err != nil {
		return nil, err
	}

	// The trailer Size is the highest object number plus one. Fall back to
	// the xref item count for files with a sloppy trailer.
	nextID := rdr.Trailer().Key("Size").Int64()
	if nextID <= 0 {
		nextID = rdr.XrefInformation.ItemCount
	}

	return &Updater{
		rdr:    rdr,
		input:  input,
		buf:    buf,
		nextID: uint32(nextID),
	}, nil
}

// NextID returns the object number the next AddObject call will use.
func (u *Updater) NextID() uint32 {
	return u.nextID
}

func (u *Updater) end() (int64, error) {
	return u.buf.Seek(0, io.SeekEnd)
}

// Len returns the current size of the updated document.
func (u *Updater) Len() (int64, error) {
	return u.end()
}

// AddObject appends a new indirect object and returns its object number and
// the absolute offset of the object body (after the "N 0 obj" header).
func (u *Updater) AddObject(body []byte) (uint32, int64, error) {
	offset, err := u.end()
	if err != nil {
		return 0, 0, err
	}

	id := u.nextID
	u.nextID++

	header := strconv.Itoa(int(id)) + " 0 obj\n"
	if _, err := u.buf.Write([]byte(header)); err != nil {
		return 0, 0, err
	}
	if _, err := u.buf.Write(body); err != nil {
		return 0, 0, err
	}
	if _, err := u.buf.Write([]byte("\nendobj\n")); err != nil {
		return 0, 0, err
	}

	u.newEntries = append(u.newEntries, XrefEntry{ID: id, Offset: offset})
	return id, offset + int64(len(header)), nil
}

// UpdateObject appends a replacement for an existing object. The incremental
// xref section will point the object number at the new definition.
func (u *Updater) UpdateObject(id uint32, body []byte) error {
	offset, err := u.end()
	if err != nil {
		return err
	}

	if _, err := u.buf.Write([]byte(strconv.Itoa(int(id)) + " 0 obj\n")); err != nil {
		return err
	}
	if _, err := u.buf.Write(body); err != nil {
		return err
	}
	if _, err := u.buf.Write([]byte("\nendobj\n")); err != nil {
		return err
	}

	u.updatedEntries = append(u.updatedEntries, XrefEntry{ID: id, Offset: offset})
	return nil
}

// WriteAt overwrites len(p) bytes at the given offset. Used to fill in the
// ByteRange values and the signature contents after their placeholders have
// been reserved. A filebuffer Write at a mid-buffer index rebuilds the
// buffer and drops everything around the index, so the overwrite goes
// straight into the backing bytes instead.
func (u *Updater) WriteAt(p []byte, offset int64) error {
	b := u.buf.Buff.Bytes()
	if offset < 0 || offset+int64(len(p)) > int64(len(b)) {
		return fmt.Errorf("write of %d bytes at offset %d is outside the document", len(p), offset)
	}
	copy(b[offset:], p)
	return nil
}

// Finalize writes the incremental cross-reference section and trailer. The
// root parameter is the catalog the new trailer should reference; pass the
// previous root when the catalog is unchanged.
func (u *Updater) Finalize(root Ref) error {
	if u.finalized {
		return fmt.Errorf("incremental update already finalized")
	}
	u.finalized = true

	sort.Slice(u.updatedEntries, func(i, j int) bool {
		return u.updatedEntries[i].ID < u.updatedEntries[j].ID
	})

	switch u.rdr.XrefInformation.Type {
	case "table":
		start, err := u.end()
		if err != nil {
			return err
		}
		u.xrefStart = start

		if err := u.writeIncrXrefTable(); err != nil {
			return err
		}
		if err := u.writeTableTrailer(root); err != nil {
			return err
		}
	case "stream":
		if err := u.writeXrefStreamObject(root); err != nil {
			return err
		}
		if _, err := u.buf.Write([]byte("startxref\n")); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown xref type: %s", u.rdr.XrefInformation.Type)
	}

	if _, err := u.buf.Write([]byte(strconv.FormatInt(u.xrefStart, 10) + "\n")); err != nil {
		return err
	}
	if _, err := u.buf.Write([]byte("%%EOF\n")); err != nil {
		return err
	}

	return nil
}

// Bytes returns the full updated document.
func (u *Updater) Bytes() ([]byte, error) {
	if _, err := u.buf.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return u.buf.Buff.Bytes(), nil
}

func (u *Updater) writeIncrXrefTable() error {
	if _, err := u.buf.Write([]byte("xref\n")); err != nil {
		return fmt.Errorf("failed to write incremental xref header: %w", err)
	}

	// One single-entry subsection per updated object.
	for _, entry := range u.updatedEntries {
		subsection := fmt.Sprintf("%d 1\n%010d 00000 n\r\n", entry.ID, entry.Offset)
		if _, err := u.buf.Write([]byte(subsection)); err != nil {
			return fmt.Errorf("failed to write updated xref entry: %w", err)
		}
	}

	// New objects are numbered sequentially, so they form one subsection.
	if len(u.newEntries) > 0 {
		header := fmt.Sprintf("%d %d\n", u.newEntries[0].ID, len(u.newEntries))
		if _, err := u.buf.Write([]byte(header)); err != nil {
			return fmt.Errorf("failed to write xref subsection header: %w", err)
		}
		for _, entry := range u.newEntries {
			line := fmt.Sprintf("%010d 00000 n\r\n", entry.Offset)
			if _, err := u.buf.Write([]byte(line)); err != nil {
				return fmt.Errorf("failed to write xref entry: %w", err)
			}
		}
	}

	return nil
}

func (u *Updater) writeTableTrailer(root Ref) error {
	xref := u.rdr.XrefInformation

	// Read the previous trailer so its layout can be reused.
	trailerLength := xref.IncludingTrailerEndPos - xref.EndPos
	if _, err := u.input.Seek(xref.EndPos+1, io.SeekStart); err != nil {
		return err
	}
	trailerBuf := make([]byte, trailerLength)
	if _, err := u.input.Read(trailerBuf); err != nil {
		return err
	}

	oldRootPtr := u.rdr.Trailer().Key("Root").GetPtr()
	oldRoot := "Root " + strconv.Itoa(int(oldRootPtr.GetID())) + " " + strconv.Itoa(int(oldRootPtr.GetGen())) + " R"
	newRoot := "Root " + strconv.Itoa(int(root.ID)) + " " + strconv.Itoa(int(root.Gen)) + " R"

	oldSize := "Size " + strconv.FormatInt(u.rdr.Trailer().Key("Size").Int64(), 10)
	newSize := "Size " + strconv.Itoa(int(u.nextID))

	oldPrev := "Prev " + u.rdr.Trailer().Key("Prev").String()
	newPrev := "Prev " + strconv.FormatInt(xref.StartPos, 10)

	trailer := string(trailerBuf)
	trailer = strings.ReplaceAll(trailer, oldRoot, newRoot)
	trailer = strings.ReplaceAll(trailer, oldSize, newSize)
	if strings.Contains(trailer, oldPrev) {
		trailer = strings.ReplaceAll(trailer, oldPrev, newPrev)
	} else {
		trailer = strings.ReplaceAll(trailer, newRoot, newRoot+"\n  /"+newPrev)
	}

	// Keep consistent indentation for dictionary lines.
	lines := strings.Split(trailer, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, " ") {
			lines[i] = "    " + strings.TrimSpace(line)
		}
	}
	trailer = strings.Join(lines, "\n")
	if !strings.HasSuffix(trailer, "\n") {
		trailer += "\n"
	}

	if _, err := u.buf.Write([]byte(trailer)); err != nil {
		return err
	}
	return nil
}

func (u *Updater) writeXrefStreamObject(root Ref) error {
	selfOffset, err := u.end()
	if err != nil {
		return err
	}
	selfID := u.nextID
	u.nextID++
	u.xrefStart = selfOffset

	// Entry data: updated objects, then the new objects, then the xref
	// stream itself (its offset is known before it is written).
	var entries bytes.Buffer
	for _, entry := range u.updatedEntries {
		writeXrefStreamLine(&entries, 1, entry.Offset, 0)
	}
	for _, entry := range u.newEntries {
		writeXrefStreamLine(&entries, 1, entry.Offset, 0)
	}
	writeXrefStreamLine(&entries, 1, selfOffset, 0)

	streamBytes, err := flateCompress(entries.Bytes())
	if err != nil {
		return fmt.Errorf("failed to encode xref stream: %w", err)
	}

	var object bytes.Buffer
	object.WriteString("<< /Type /XRef\n")
	fmt.Fprintf(&object, "  /Length %d\n", len(streamBytes))
	object.WriteString("  /Filter /FlateDecode\n")
	object.WriteString("  /W [ 1 4 1 ]\n")
	fmt.Fprintf(&object, "  /Prev %d\n", u.rdr.XrefInformation.StartPos)
	fmt.Fprintf(&object, "  /Size %d\n", selfID+1)

	object.WriteString("  /Index [")
	for _, entry := range u.updatedEntries {
		fmt.Fprintf(&object, " %d 1", entry.ID)
	}
	firstNew := selfID
	if len(u.newEntries) > 0 {
		firstNew = u.newEntries[0].ID
	}
	fmt.Fprintf(&object, " %d %d", firstNew, len(u.newEntries)+1)
	object.WriteString(" ]\n")

	fmt.Fprintf(&object, "  /Root %d %d R\n", root.ID, root.Gen)

	id := u.rdr.Trailer().Key("ID")
	if !id.IsNull() {
		id0 := hex.EncodeToString([]byte(id.Index(0).RawString()))
		id1 := hex.EncodeToString([]byte(id.Index(1).RawString()))
		fmt.Fprintf(&object, "  /ID [<%s><%s>]\n", id0, id1)
	}

	object.WriteString(">>\n")
	object.WriteString("stream\n")
	object.Write(streamBytes)
	object.WriteString("\nendstream")

	if _, err := u.buf.Write([]byte(strconv.Itoa(int(selfID)) + " 0 obj\n")); err != nil {
		return err
	}
	if _, err := u.buf.Write(object.Bytes()); err != nil {
		return err
	}
	if _, err := u.buf.Write([]byte("\nendobj\n")); err != nil {
		return err
	}

	return nil
}

func writeXrefStreamLine(b *bytes.Buffer, xreftype byte, offset int64, gen byte) {
	b.WriteByte(xreftype)

	offsetBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(offsetBytes, uint32(offset))
	b.Write(offsetBytes)

	b.WriteByte(gen)
}

func flateCompress(data []byte) ([]byte, error) {
	var b bytes.Buffer
	w := zlib.NewWriter(&b)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
