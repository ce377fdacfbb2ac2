package delivery

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	walletobjects "google.golang.org/api/walletobjects/v1"

	"github.com/iliyamo/wallet-pass-engine/internal/model"
)

// GoogleWallet pushes pass data to the Google Wallet generic object that
// mirrors a pass. The object ID is "<issuer>.<serial>".
type GoogleWallet struct {
	issuerID string
	patch    func(ctx context.Context, objectID string, obj *walletobjects.GenericObject) error
}

// NewGoogleWallet authenticates with a service account file. An empty
// credentialsFile falls back to application default credentials.
func NewGoogleWallet(ctx context.Context, issuerID, credentialsFile string) (*GoogleWallet, error) {
	opts := []option.ClientOption{option.WithScopes(walletobjects.WalletObjectIssuerScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := walletobjects.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "google wallet client")
	}
	return &GoogleWallet{
		issuerID: issuerID,
		patch: func(ctx context.Context, objectID string, obj *walletobjects.GenericObject) error {
			_, err := svc.Genericobject.Patch(objectID, obj).Context(ctx).Do()
			return err
		},
	}, nil
}

// ObjectID returns the Google object ID of a pass.
func (g *GoogleWallet) ObjectID(p *model.Pass) string {
	return g.issuerID + "." + p.SerialNumber
}

// UpdateObject patches the object once with the current pass data.
func (g *GoogleWallet) UpdateObject(ctx context.Context, p *model.Pass) error {
	err := g.patch(ctx, g.ObjectID(p), GenericObjectFor(p))
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classify(&StatusError{Platform: "google", Code: apiErr.Code, Reason: apiErr.Message})
	}
	return errors.Wrap(err, "google wallet patch")
}

// GenericObjectFor renders pass data as text modules ordered by key.
func GenericObjectFor(p *model.Pass) *walletobjects.GenericObject {
	keys := make([]string, 0, len(p.Data))
	for k := range p.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	modules := make([]*walletobjects.TextModuleData, 0, len(keys))
	for _, k := range keys {
		modules = append(modules, &walletobjects.TextModuleData{Id: k, Header: k, Body: p.Data[k]})
	}
	return &walletobjects.GenericObject{
		TextModulesData: modules,
		State:           objectState(p),
	}
}

func objectState(p *model.Pass) string {
	switch {
	case p.VoidedAt != nil:
		return "INACTIVE"
	case p.RedeemedAt != nil:
		return "COMPLETED"
	case p.IsExpired(time.Now()):
		return "EXPIRED"
	}
	return "ACTIVE"
}
