package attestclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// Verifier checks the opaque bot-attestation token against the external
// attestation service.
type Verifier interface {
	Verify(ctx context.Context, token string) error
}

var ErrAttestationFailed = errors.New("attestation failed")

type attestClient struct {
	serviceAddr string
	client      *resty.Client
}

func NewAttestClient(serviceAddr string) Verifier {
	return &attestClient{
		serviceAddr: serviceAddr,
		client:      resty.New(),
	}
}

func (client *attestClient) Verify(ctx context.Context, token string) error {
	if token == "" {
		return ErrAttestationFailed
	}

	setreq := client.client.R().SetContext(ctx)
	setreq.Method = http.MethodPost
	setreq.URL = client.serviceAddr + "/v1/verify"
	setreq.SetBody(map[string]string{"token": token})
	setresp, err := setreq.Send()
	if err != nil {
		return err
	}

	switch setresp.StatusCode() {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAttestationFailed
	default:
		return fmt.Errorf("attestation request status: %d", setresp.StatusCode())
	}
}
