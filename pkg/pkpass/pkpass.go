// Package pkpass builds unsigned Apple Wallet pass bundles for memberships.
package pkpass

import (
	"archive/zip"
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vyris/vyris-backend/pkg/db/models"
)

// ContentType is the media type served for .pkpass bundles.
const ContentType = "application/vnd.apple.pkpass"

const (
	defaultPassTypeIdentifier = "pass.app.vyris.membership"
	defaultTeamIdentifier     = "VYRIS"
	defaultOrganizationName   = "VYRIS"
)

// archiveEpoch pins zip timestamps so identical memberships produce identical bytes.
var archiveEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Bundle is an encoded pass ready to be served.
type Bundle struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Options identifies the pass type. Zero values fall back to the VYRIS defaults.
type Options struct {
	PassTypeIdentifier string
	TeamIdentifier     string
	OrganizationName   string
}

// Encoder renders memberships into .pkpass archives.
type Encoder struct {
	opts Options
}

func NewEncoder(opts Options) *Encoder {
	if opts.PassTypeIdentifier == "" {
		opts.PassTypeIdentifier = defaultPassTypeIdentifier
	}
	if opts.TeamIdentifier == "" {
		opts.TeamIdentifier = defaultTeamIdentifier
	}
	if opts.OrganizationName == "" {
		opts.OrganizationName = defaultOrganizationName
	}
	return &Encoder{opts: opts}
}

type passField struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

type passBarcode struct {
	Format          string `json:"format"`
	Message         string `json:"message"`
	MessageEncoding string `json:"messageEncoding"`
}

type genericLayout struct {
	PrimaryFields   []passField `json:"primaryFields"`
	SecondaryFields []passField `json:"secondaryFields"`
}

type passDocument struct {
	FormatVersion      int           `json:"formatVersion"`
	PassTypeIdentifier string        `json:"passTypeIdentifier"`
	SerialNumber       string        `json:"serialNumber"`
	TeamIdentifier     string        `json:"teamIdentifier"`
	OrganizationName   string        `json:"organizationName"`
	Description        string        `json:"description"`
	Barcodes           []passBarcode `json:"barcodes"`
	Generic            genericLayout `json:"generic"`
}

// PassJSON renders the pass.json document for a membership.
func (e *Encoder) PassJSON(m models.Membership) ([]byte, error) {
	if m.PassSerial == "" {
		return nil, fmt.Errorf("membership %s has no pass serial", m.ID)
	}
	doc := passDocument{
		FormatVersion:      1,
		PassTypeIdentifier: e.opts.PassTypeIdentifier,
		SerialNumber:       m.PassSerial,
		TeamIdentifier:     e.opts.TeamIdentifier,
		OrganizationName:   e.opts.OrganizationName,
		Description:        fmt.Sprintf("VYRIS %s #%d", m.Tier, m.SequenceNum),
		Barcodes: []passBarcode{{
			Format:          "PKBarcodeFormatQR",
			Message:         m.ID.String(),
			MessageEncoding: "iso-8859-1",
		}},
		Generic: genericLayout{
			PrimaryFields: []passField{
				{Key: "member", Label: "MEMBER", Value: "#" + strconv.Itoa(m.SequenceNum)},
			},
			SecondaryFields: []passField{
				{Key: "tier", Label: "TIER", Value: strings.ToUpper(m.Tier)},
				{Key: "year", Label: "YEAR", Value: strconv.Itoa(m.Year)},
			},
		},
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Encode builds the zip archive: pass.json plus a manifest of SHA-1 digests.
// The bundle is unsigned; Wallet needs signature added downstream.
func (e *Encoder) Encode(m models.Membership) (*Bundle, error) {
	passJSON, err := e.PassJSON(m)
	if err != nil {
		return nil, err
	}
	manifest, err := json.Marshal(map[string]string{"pass.json": sha1Hex(passJSON)})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range []struct {
		name string
		data []byte
	}{
		{"pass.json", passJSON},
		{"manifest.json", manifest},
	} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.name, Method: zip.Deflate, Modified: archiveEpoch})
		if err != nil {
			return nil, fmt.Errorf("add %s: %w", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}

	return &Bundle{
		Data:        buf.Bytes(),
		ContentType: ContentType,
		Filename:    fmt.Sprintf("vyris-%s-%d.pkpass", m.Tier, m.SequenceNum),
	}, nil
}

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}
