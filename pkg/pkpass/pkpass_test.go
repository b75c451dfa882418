package pkpass

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"

	"github.com/vyris/vyris-backend/pkg/db/models"
)

func fixtureMembership() models.Membership {
	id := uuid.MustParse("5b0c8f9e-3c1f-4c3a-9d27-8a6f1e2b7c44")
	return models.Membership{
		ID:          id,
		UserID:      "user-42",
		Tier:        "genesis",
		Year:        2025,
		SequenceNum: 42,
		PassSerial:  "vyris-genesis-2025-" + id.String(),
	}
}

func TestPassJSONGolden(t *testing.T) {
	out, err := NewEncoder(Options{}).PassJSON(fixtureMembership())
	if err != nil {
		t.Fatalf("PassJSON: %v", err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "genesis_pass", out)
}

func TestEncodeBuildsArchiveWithManifest(t *testing.T) {
	enc := NewEncoder(Options{})
	bundle, err := enc.Encode(fixtureMembership())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if bundle.ContentType != ContentType {
		t.Fatalf("unexpected content type %s", bundle.ContentType)
	}
	if bundle.Filename != "vyris-genesis-42.pkpass" {
		t.Fatalf("unexpected filename %s", bundle.Filename)
	}

	zr, err := zip.NewReader(bytes.NewReader(bundle.Data), int64(len(bundle.Data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, _ := io.ReadAll(rc)
		_ = rc.Close()
		files[f.Name] = data
	}
	passJSON, ok := files["pass.json"]
	if !ok {
		t.Fatal("pass.json missing")
	}
	var manifest map[string]string
	if err := json.Unmarshal(files["manifest.json"], &manifest); err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if manifest["pass.json"] != sha1Hex(passJSON) {
		t.Fatal("manifest digest does not match pass.json")
	}

	again, _ := enc.Encode(fixtureMembership())
	if !bytes.Equal(again.Data, bundle.Data) {
		t.Fatal("encoding should be deterministic")
	}
}

func TestPassJSONRequiresSerial(t *testing.T) {
	m := fixtureMembership()
	m.PassSerial = ""
	if _, err := NewEncoder(Options{}).Encode(m); err == nil {
		t.Fatal("expected error without pass serial")
	}
}
