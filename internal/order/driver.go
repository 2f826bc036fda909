// Package order implements the stateless cart/order protocol wrapper: one
// strictly ordered call sequence per order attempt, from cart creation
// through checkout.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/woodchen-ink/OVH/internal/api"
	"github.com/woodchen-ink/OVH/internal/ovh"
)

const (
	// StepTimeout bounds each protocol step.
	StepTimeout = 20 * time.Second

	// SequenceTimeout bounds the whole order sequence. On timeout the
	// half-built cart is abandoned; OVH expires it.
	SequenceTimeout = 90 * time.Second
)

// ErrNotAvailable is returned when OVH rejects the add-to-cart step for
// lack of stock. The scheduler treats it like an unavailable probe and
// retries on the next tick.
var ErrNotAvailable = errors.New("plan not available")

// Request describes one order attempt for a single unit.
type Request struct {
	PlanCode      string
	Datacenter    string
	Options       []string
	OVHSubsidiary string
	AutoPay       bool
}

// Result is the outcome of a successful order attempt. ErrorMessage is set
// when the order was created but automatic payment failed; the slot is
// still secured.
type Result struct {
	OrderID      string
	OrderURL     string
	Price        *api.Price
	ErrorMessage string
}

// Driver executes order sequences. It keeps no state between attempts.
type Driver struct {
	logger *slog.Logger
}

// NewDriver creates a Driver.
func NewDriver(logger *slog.Logger) *Driver {
	return &Driver{logger: logger}
}

type cartResponse struct {
	CartID string `json:"cartId"`
	Expire string `json:"expire"`
}

type itemResponse struct {
	ItemID int64 `json:"itemId"`
}

type requiredConfiguration struct {
	Label         string   `json:"label"`
	Required      bool     `json:"required"`
	AllowedValues []string `json:"allowedValues"`
}

type amount struct {
	Value        float64 `json:"value"`
	CurrencyCode string  `json:"currencyCode"`
}

type priceBreakdown struct {
	WithTax    amount `json:"withTax"`
	WithoutTax amount `json:"withoutTax"`
	Tax        amount `json:"tax"`
}

type checkoutPreview struct {
	Prices priceBreakdown `json:"prices"`
}

type checkoutResult struct {
	OrderID int64  `json:"orderId"`
	URL     string `json:"url"`
}

// PlaceOrder runs the full cart sequence for one unit:
// create cart, assign, add item, configure, price preview, checkout.
// Not idempotent on the OVH side; the caller must not double-issue.
func (d *Driver) PlaceOrder(ctx context.Context, client *ovh.Client, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, SequenceTimeout)
	defer cancel()

	logger := d.logger.With("plan_code", req.PlanCode, "datacenter", req.Datacenter)

	cartID, err := d.createCart(ctx, client, req)
	if err != nil {
		return nil, fmt.Errorf("creating cart: %w", err)
	}
	logger = logger.With("cart_id", cartID)

	if err := d.assignCart(ctx, client, cartID); err != nil {
		return nil, fmt.Errorf("assigning cart %s: %w", cartID, err)
	}

	itemID, err := d.addItem(ctx, client, cartID, req)
	if err != nil {
		return nil, err
	}

	if err := d.configureItem(ctx, client, cartID, itemID, req); err != nil {
		return nil, fmt.Errorf("configuring cart item: %w", err)
	}

	price, err := d.previewPrice(ctx, client, cartID)
	if err != nil {
		return nil, fmt.Errorf("validating cart: %w", err)
	}

	result, err := d.checkout(ctx, client, cartID, req)
	if err != nil {
		return nil, err
	}
	result.Price = price

	logger.Info("order placed", "order_id", result.OrderID, "auto_pay", req.AutoPay)
	return result, nil
}

func (d *Driver) createCart(ctx context.Context, client *ovh.Client, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	var cart cartResponse
	body := map[string]any{
		"ovhSubsidiary": req.OVHSubsidiary,
		"description":   "ovh-sniper " + req.PlanCode,
	}
	if err := client.Post(ctx, "/order/cart", body, &cart); err != nil {
		return "", err
	}
	return cart.CartID, nil
}

func (d *Driver) assignCart(ctx context.Context, client *ovh.Client, cartID string) error {
	ctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	return client.Post(ctx, "/order/cart/"+cartID+"/assign", nil, nil)
}

func (d *Driver) addItem(ctx context.Context, client *ovh.Client, cartID string, req Request) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	var item itemResponse
	body := map[string]any{
		"planCode":    req.PlanCode,
		"pricingMode": "default",
		"quantity":    1,
		"duration":    "P1M",
	}
	err := client.Post(ctx, itemPath(cartID, req.PlanCode), body, &item)
	if err != nil {
		// A 400 on add-to-cart is OVH refusing the plan for lack of
		// stock; 404 and auth errors pass through untouched so the
		// scheduler can fail the task.
		var apiErr *ovh.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 400 {
			return 0, fmt.Errorf("%w: %s", ErrNotAvailable, apiErr.Message)
		}
		return 0, fmt.Errorf("adding item to cart %s: %w", cartID, err)
	}
	return item.ItemID, nil
}

// itemPath routes the add-item call by plan family: Kimsufi / So you Start
// style plans go through the eco family, everything else is a regular
// baremetal server.
func itemPath(cartID, planCode string) string {
	if isEcoPlan(planCode) {
		return "/order/cart/" + cartID + "/eco"
	}
	return "/order/cart/" + cartID + "/baremetalServers"
}

func isEcoPlan(planCode string) bool {
	for _, prefix := range []string{"24sk", "25sk", "sk", "ks", "sys", "rise"} {
		if strings.HasPrefix(planCode, prefix) {
			return true
		}
	}
	return false
}

// configureItem posts the datacenter, the required configurations the plan
// demands, and the task's option choices.
func (d *Driver) configureItem(ctx context.Context, client *ovh.Client, cartID string, itemID int64, req Request) error {
	itemBase := "/order/cart/" + cartID + "/item/" + strconv.FormatInt(itemID, 10)

	setConfiguration := func(label, value string) error {
		stepCtx, cancel := context.WithTimeout(ctx, StepTimeout)
		defer cancel()
		return client.Post(stepCtx, itemBase+"/configuration",
			map[string]any{"label": label, "value": value}, nil)
	}

	if err := setConfiguration("dedicated_datacenter", req.Datacenter); err != nil {
		return err
	}

	required, err := d.requiredConfigurations(ctx, client, itemBase)
	if err != nil {
		return err
	}
	for _, config := range required {
		value, ok := defaultConfigurationValue(config, req)
		if !ok {
			if config.Required {
				return fmt.Errorf("no value for required configuration %q", config.Label)
			}
			continue
		}
		if err := setConfiguration(config.Label, value); err != nil {
			return err
		}
	}

	for _, option := range req.Options {
		if err := setConfiguration(optionLabel(option), option); err != nil {
			return err
		}
	}

	return nil
}

func (d *Driver) requiredConfigurations(ctx context.Context, client *ovh.Client, itemBase string) ([]requiredConfiguration, error) {
	ctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	var required []requiredConfiguration
	if err := client.Get(ctx, itemBase+"/requiredConfiguration", &required); err != nil {
		return nil, err
	}
	return required, nil
}

// defaultConfigurationValue picks a value for a plan's required
// configuration. The datacenter is configured explicitly before this runs.
func defaultConfigurationValue(config requiredConfiguration, req Request) (string, bool) {
	switch config.Label {
	case "dedicated_datacenter":
		// Already set.
		return "", false
	case "dedicated_os", "os":
		return "none_64.en", true
	case "region":
		if len(config.AllowedValues) > 0 {
			return config.AllowedValues[0], true
		}
		return "europe", true
	default:
		if len(config.AllowedValues) > 0 {
			return config.AllowedValues[0], true
		}
		return "", false
	}
}

// optionLabel maps an option code to its configuration family.
func optionLabel(option string) string {
	switch {
	case strings.HasPrefix(option, "ram-"):
		return "memory"
	case strings.HasPrefix(option, "softraid-"), strings.HasPrefix(option, "hybridsoftraid-"), strings.HasPrefix(option, "raid-"):
		return "storage"
	case strings.HasPrefix(option, "bandwidth-"):
		return "bandwidth"
	case strings.HasPrefix(option, "vrack-"):
		return "vrack"
	default:
		label, _, _ := strings.Cut(option, "-")
		return label
	}
}

func (d *Driver) previewPrice(ctx context.Context, client *ovh.Client, cartID string) (*api.Price, error) {
	ctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	var preview checkoutPreview
	if err := client.Get(ctx, "/order/cart/"+cartID+"/checkout", &preview); err != nil {
		return nil, err
	}
	return &api.Price{
		WithTax:      preview.Prices.WithTax.Value,
		WithoutTax:   preview.Prices.WithoutTax.Value,
		Tax:          preview.Prices.Tax.Value,
		CurrencyCode: preview.Prices.WithTax.CurrencyCode,
	}, nil
}

// checkout submits the cart. When automatic payment is rejected after the
// cart already validated, the order is re-submitted without auto-pay: the
// slot is secured and the payment failure is surfaced on the result.
func (d *Driver) checkout(ctx context.Context, client *ovh.Client, cartID string, req Request) (*Result, error) {
	submit := func(autoPay bool) (*checkoutResult, error) {
		stepCtx, cancel := context.WithTimeout(ctx, StepTimeout)
		defer cancel()

		var out checkoutResult
		body := map[string]any{
			"autoPayWithPreferredPaymentMethod": autoPay,
			"waiveRetractationPeriod":           true,
		}
		if err := client.Post(stepCtx, "/order/cart/"+cartID+"/checkout", body, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}

	out, err := submit(req.AutoPay)
	if err != nil && req.AutoPay && isPaymentError(err) {
		d.logger.Warn("automatic payment rejected, retrying checkout without auto-pay",
			"cart_id", cartID, "error", err.Error())
		var retryErr error
		out, retryErr = submit(false)
		if retryErr != nil {
			return nil, fmt.Errorf("checking out cart %s: %w", cartID, err)
		}
		return &Result{
			OrderID:      strconv.FormatInt(out.OrderID, 10),
			OrderURL:     out.URL,
			ErrorMessage: "automatic payment failed: " + err.Error(),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking out cart %s: %w", cartID, err)
	}

	return &Result{
		OrderID:  strconv.FormatInt(out.OrderID, 10),
		OrderURL: out.URL,
	}, nil
}

func isPaymentError(err error) bool {
	var apiErr *ovh.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == 402 {
		return true
	}
	message := strings.ToLower(apiErr.Message)
	return apiErr.StatusCode == 400 && (strings.Contains(message, "payment") || strings.Contains(message, "pay"))
}
