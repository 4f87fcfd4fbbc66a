// Package sign embeds detached CMS signatures and document timestamps into
// PDF files as incremental updates.
package sign

import (
	"bytes"
	"context"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/digitorus/pdf"

	"github.com/docseal/docseal/internal/pdfinc"
)

// maxPlaceholderRetries bounds the grow-and-retry loop for signatures that
// do not fit their reserved placeholder.
const maxPlaceholderRetries = 3

var (
	ErrNoSigner      = errors.New("no signer or certificate configured")
	ErrNoTSAForStamp = errors.New("document timestamp requires a timestamp authority URL")
)

type errSignatureTooLong struct {
	needed uint32
}

func (e errSignatureTooLong) Error() string {
	return fmt.Sprintf("signature of %d hex characters exceeds reserved placeholder", e.needed)
}

// SignBytes signs an in-memory document and returns the signed document.
func SignBytes(ctx context.Context, input []byte, data SignData) ([]byte, error) {
	r := bytes.NewReader(input)
	rdr, err := pdf.NewReader(r, int64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse input document: %w", err)
	}
	return Sign(ctx, r, rdr, int64(len(input)), data)
}

// Sign appends a signature to the parsed document. The reader must wrap the
// same bytes the pdf.Reader was created from.
func Sign(ctx context.Context, input io.ReadSeeker, rdr *pdf.Reader, size int64, data SignData) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if data.DigestAlgorithm == 0 {
		data.DigestAlgorithm = crypto.SHA256
	}

	if data.DocTimeStamp {
		if data.TSA.URL == "" {
			return nil, ErrNoTSAForStamp
		}
	} else if data.Signer == nil || data.Certificate == nil {
		return nil, ErrNoSigner
	}

	maxHexLength := data.ReservedHexLength
	if maxHexLength == 0 {
		maxHexLength = DefaultReservedHexLength
		if data.TSA.URL != "" {
			maxHexLength = TSAReservedHexLength
		}
	}

	for attempt := 0; ; attempt++ {
		signContext := &SignContext{
			PDFReader:       rdr,
			InputBufferSize: size,
			SignData:        data,
			ctx:             ctx,
			maxHexLength:    maxHexLength,
		}

		signed, err := signContext.run(input)
		var tooLong errSignatureTooLong
		if errors.As(err, &tooLong) && attempt < maxPlaceholderRetries {
			// Rebuild the whole update with a larger reservation. The
			// placeholder shifts every offset, so nothing can be reused.
			maxHexLength = tooLong.needed + 2
			continue
		}
		if err != nil {
			return nil, err
		}
		return signed, nil
	}
}

func (c *SignContext) run(input io.ReadSeeker) ([]byte, error) {
	updater, err := pdfinc.New(input, c.PDFReader)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare incremental update: %w", err)
	}
	c.updater = updater

	placeholder, byteRangeRel, contentsRel := c.createSignaturePlaceholder()
	sigID, bodyOffset, err := updater.AddObject(placeholder)
	if err != nil {
		return nil, fmt.Errorf("failed to add signature object: %w", err)
	}
	c.byteRangeOffset = bodyOffset + byteRangeRel
	c.contentsOffset = bodyOffset + contentsRel

	field, err := c.createSignatureField(sigID)
	if err != nil {
		return nil, fmt.Errorf("failed to create signature field: %w", err)
	}
	fieldID, _, err := updater.AddObject(field)
	if err != nil {
		return nil, fmt.Errorf("failed to add signature field: %w", err)
	}

	catalog, err := c.createCatalog(pdfinc.Ref{ID: fieldID})
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog: %w", err)
	}
	catalogID, _, err := updater.AddObject(catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to add catalog: %w", err)
	}

	if err := updater.Finalize(pdfinc.Ref{ID: catalogID}); err != nil {
		return nil, fmt.Errorf("failed to write xref and trailer: %w", err)
	}

	if err := c.updateByteRange(); err != nil {
		return nil, fmt.Errorf("failed to update byte range: %w", err)
	}

	if err := c.embedSignature(); err != nil {
		return nil, err
	}

	return updater.Bytes()
}

// updateByteRange computes the byte ranges around the contents placeholder
// and writes them over the ByteRange placeholder.
func (c *SignContext) updateByteRange() error {
	total, err := c.updater.Len()
	if err != nil {
		return err
	}

	c.byteRangeValues[0] = 0
	c.byteRangeValues[1] = c.contentsOffset
	c.byteRangeValues[2] = c.contentsOffset + 1 + int64(c.maxHexLength) + 1
	c.byteRangeValues[3] = total - c.byteRangeValues[2]

	newByteRange := fmt.Sprintf("/ByteRange[0 %d %d %d]",
		c.byteRangeValues[1], c.byteRangeValues[2], c.byteRangeValues[3])
	if len(newByteRange) > len(signatureByteRangePlaceholder) {
		return errors.New("byte range string is longer than the placeholder")
	}
	newByteRange += strings.Repeat(" ", len(signatureByteRangePlaceholder)-len(newByteRange))

	return c.updater.WriteAt([]byte(newByteRange), c.byteRangeOffset)
}

// rangeContent collects the two byte ranges covered by the signature.
func (c *SignContext) rangeContent() ([]byte, error) {
	doc, err := c.updater.Bytes()
	if err != nil {
		return nil, err
	}

	br := c.byteRangeValues
	content := make([]byte, 0, br[1]+br[3])
	content = append(content, doc[br[0]:br[0]+br[1]]...)
	content = append(content, doc[br[2]:br[2]+br[3]]...)
	return content, nil
}

func (c *SignContext) embedSignature() error {
	content, err := c.rangeContent()
	if err != nil {
		return err
	}

	var signature []byte
	if c.SignData.DocTimeStamp {
		signature, err = c.requestTimestampToken(content)
	} else {
		signature, err = c.createSignature(content)
	}
	if err != nil {
		return err
	}

	dst := make([]byte, hex.EncodedLen(len(signature)))
	hex.Encode(dst, signature)

	if uint32(len(dst)) > c.maxHexLength {
		return errSignatureTooLong{needed: uint32(len(dst))}
	}

	return c.updater.WriteAt(dst, c.contentsOffset+1)
}
