package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/tiffinbox/models"
)

// GatewayConfig describes the simulated payment gateway. The real gateway is
// an external collaborator; this stand-in settles every well-formed charge
// deterministically so the rest of the payment path behaves as in production.
type GatewayConfig struct {
	Name        string
	MerchantID  string
	SettleDelay time.Duration
}

type GatewayResult struct {
	TransactionID string
	Status        string
	RawResponse   string
}

type SimulatedGateway struct {
	config *GatewayConfig
}

func NewSimulatedGateway(config *GatewayConfig) *SimulatedGateway {
	return &SimulatedGateway{config: config}
}

func DefaultGateway() *SimulatedGateway {
	return NewSimulatedGateway(&GatewayConfig{
		Name:        "demo",
		MerchantID:  "tiffinbox-demo",
		SettleDelay: time.Second,
	})
}

func (g *SimulatedGateway) ValidateConfig() error {
	if g.config == nil {
		return errors.New("gateway config is nil")
	}
	if g.config.Name == "" {
		return errors.New("gateway name is required")
	}
	if g.config.MerchantID == "" {
		return errors.New("merchant id is required")
	}
	return nil
}

func (g *SimulatedGateway) Name() string {
	return g.config.Name
}

func (g *SimulatedGateway) SettleDelay() time.Duration {
	return g.config.SettleDelay
}

var validPaymentMethods = map[string]bool{
	models.PaymentMethodCard:       true,
	models.PaymentMethodUPI:        true,
	models.PaymentMethodNetbanking: true,
	models.PaymentMethodWallet:     true,
}

// Charge settles a payment synchronously. Unknown methods are rejected; every
// valid charge succeeds with a fresh transaction id.
func (g *SimulatedGateway) Charge(amount float64, method string) (*GatewayResult, error) {
	if err := g.ValidateConfig(); err != nil {
		return nil, err
	}
	if !validPaymentMethods[strings.ToLower(method)] {
		return &GatewayResult{
			Status:      models.PaymentStatusFailed,
			RawResponse: fmt.Sprintf(`{"gateway":%q,"error":"unsupported payment method"}`, g.config.Name),
		}, nil
	}
	if amount <= 0 {
		return &GatewayResult{
			Status:      models.PaymentStatusFailed,
			RawResponse: fmt.Sprintf(`{"gateway":%q,"error":"invalid amount"}`, g.config.Name),
		}, nil
	}

	return &GatewayResult{
		TransactionID: "TXN-" + strings.ToUpper(uuid.NewString()[:12]),
		Status:        models.PaymentStatusCompleted,
		RawResponse:   fmt.Sprintf(`{"gateway":%q,"status":"success"}`, g.config.Name),
	}, nil
}
