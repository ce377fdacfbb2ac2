package passfile

import (
	"archive/zip"
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/utils"
)

// Builder renders a pass into an unsigned .pkpass archive.
//
// TODO: add the PKCS#7 "signature" entry over manifest.json once the pass
// type certificate is loaded from config; Wallet rejects unsigned passes
// on device, the archive is otherwise complete.
type Builder struct {
	TeamID           string
	OrganizationName string
	WebServiceURL    string
	// QRSecret, when set, appends ":" + hex(HMAC-SHA256(QRSecret, serial))
	// to the barcode message so scanners can submit the signature.
	QRSecret string
}

type field struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

type barcode struct {
	Format          string `json:"format"`
	Message         string `json:"message"`
	MessageEncoding string `json:"messageEncoding"`
	AltText         string `json:"altText,omitempty"`
}

type passJSON struct {
	FormatVersion       int       `json:"formatVersion"`
	PassTypeIdentifier  string    `json:"passTypeIdentifier"`
	SerialNumber        string    `json:"serialNumber"`
	TeamIdentifier      string    `json:"teamIdentifier,omitempty"`
	OrganizationName    string    `json:"organizationName"`
	Description         string    `json:"description"`
	WebServiceURL       string    `json:"webServiceURL,omitempty"`
	AuthenticationToken string    `json:"authenticationToken,omitempty"`
	ExpirationDate      string    `json:"expirationDate,omitempty"`
	Voided              bool      `json:"voided,omitempty"`
	Barcodes            []barcode `json:"barcodes"`
	Generic             struct {
		PrimaryFields   []field `json:"primaryFields"`
		SecondaryFields []field `json:"secondaryFields"`
	} `json:"generic"`
}

// BarcodeMessage is the payload encoded in the pass QR code.
func (b *Builder) BarcodeMessage(serial string) string {
	if b.QRSecret == "" {
		return serial
	}
	return serial + ":" + utils.SignHex(b.QRSecret, []byte(serial))
}

// Build returns the archive bytes for p.
func (b *Builder) Build(p *model.Pass) ([]byte, error) {
	pj := passJSON{
		FormatVersion:       1,
		PassTypeIdentifier:  p.PassTypeID,
		SerialNumber:        p.SerialNumber,
		TeamIdentifier:      b.TeamID,
		OrganizationName:    b.OrganizationName,
		Description:         p.SerialNumber,
		WebServiceURL:       b.WebServiceURL,
		AuthenticationToken: p.AuthenticationToken,
		Voided:              p.VoidedAt != nil || p.RedeemedAt != nil,
		Barcodes: []barcode{{
			Format:          "PKBarcodeFormatQR",
			Message:         b.BarcodeMessage(p.SerialNumber),
			MessageEncoding: "iso-8859-1",
			AltText:         p.SerialNumber,
		}},
	}
	if p.ExpiresAt != nil {
		pj.ExpirationDate = p.ExpiresAt.UTC().Format(time.RFC3339)
	}
	keys := make([]string, 0, len(p.Data))
	for k := range p.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pj.Generic.PrimaryFields = []field{}
	pj.Generic.SecondaryFields = []field{}
	for i, k := range keys {
		f := field{Key: k, Label: k, Value: p.Data[k]}
		if i == 0 {
			pj.Generic.PrimaryFields = append(pj.Generic.PrimaryFields, f)
		} else {
			pj.Generic.SecondaryFields = append(pj.Generic.SecondaryFields, f)
		}
	}
	passBytes, err := json.MarshalIndent(pj, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode pass.json")
	}

	files := map[string][]byte{"pass.json": passBytes}
	manifest := make(map[string]string, len(files))
	for name, data := range files {
		sum := sha1.Sum(data)
		manifest[name] = hex.EncodeToString(sum[:])
	}
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return nil, errors.Wrap(err, "encode manifest.json")
	}
	files["manifest.json"] = manifestBytes

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"pass.json", "manifest.json"} {
		w, err := zw.Create(name)
		if err != nil {
			return nil, errors.Wrapf(err, "zip %s", name)
		}
		if _, err := w.Write(files[name]); err != nil {
			return nil, errors.Wrapf(err, "zip %s", name)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "zip close")
	}
	return buf.Bytes(), nil
}
