package delivery

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
)

// APNsPusher sends the empty "pass changed" notification Apple Wallet
// expects. The device then fetches the changed serials from the web
// service.
type APNsPusher struct {
	send func(ctx context.Context, n *apns2.Notification) (*apns2.Response, error)
}

// NewAPNsPusher loads the pass type certificate and builds a client for
// the production or sandbox gateway.
func NewAPNsPusher(certFile, password string, production bool) (*APNsPusher, error) {
	cert, err := certificate.FromP12File(certFile, password)
	if err != nil {
		return nil, errors.Wrap(err, "load apns certificate")
	}
	client := apns2.NewClient(cert)
	if production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	return &APNsPusher{send: func(ctx context.Context, n *apns2.Notification) (*apns2.Response, error) {
		return client.PushWithContext(ctx, n)
	}}, nil
}

// Push notifies one device. topic is the pass type identifier.
func (p *APNsPusher) Push(ctx context.Context, pushToken, topic string) error {
	n := &apns2.Notification{
		DeviceToken: pushToken,
		Topic:       topic,
		Payload:     []byte(`{}`),
	}
	res, err := p.send(ctx, n)
	if err != nil {
		return errors.Wrap(err, "apns push")
	}
	if res.Sent() {
		return nil
	}
	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return fmt.Errorf("apns %d %s: %w", res.StatusCode, res.Reason, ErrTokenInvalid)
	}
	return classify(&StatusError{Platform: "apns", Code: res.StatusCode, Reason: res.Reason})
}
