package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/code-payments/code-server/pkg/retry/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/code-payments/flipchat-billing/billing"
	"github.com/code-payments/flipchat-billing/billing/memory"
	"github.com/code-payments/flipchat-billing/billing/skucache"
	"github.com/code-payments/flipchat-billing/event"
	event_nats "github.com/code-payments/flipchat-billing/event/nats"
	"github.com/code-payments/flipchat-billing/flags"
	iap_memory "github.com/code-payments/flipchat-billing/iap/memory"
)

type simulateOptions struct {
	skus          []string
	priceMicros   int64
	currency      string
	subscriptions bool
	setupFailures int
	disconnect    bool
	timeout       time.Duration
}

func newSimulateCommand(root *rootOptions) *cobra.Command {
	opts := simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a billing session against an in-memory purchasing service",
		Long:  `simulate buys, acknowledges and consumes every SKU against an in-memory purchasing service and prints the notifications it receives.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			return runSimulation(ctx, root.log, root.cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceVar(&opts.skus, "sku", []string{"com.flipchat.iap.createaccount"}, "in-app SKUs to buy")
	cmd.Flags().Int64Var(&opts.priceMicros, "price-micros", 1_990_000, "price of every SKU, in micros")
	cmd.Flags().StringVar(&opts.currency, "currency", "USD", "price currency code")
	cmd.Flags().BoolVar(&opts.subscriptions, "subscriptions", false, "report subscriptions as supported")
	cmd.Flags().IntVar(&opts.setupFailures, "setup-failures", 0, "number of connection setups that fail before one succeeds")
	cmd.Flags().BoolVar(&opts.disconnect, "disconnect", false, "drop the connection once before the final query")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "time allowed for the whole session")

	return cmd
}

type simulation struct {
	log     *zap.Logger
	out     io.Writer
	svc     *memory.Service
	manager *billing.Manager
	events  *event.ChannelStream[*billing.Event, *billing.Event]
}

func runSimulation(ctx context.Context, log *zap.Logger, cfg *flags.Billing, opts simulateOptions, out io.Writer) error {
	if opts.disconnect && cfg.MaxRetries == 0 {
		return errors.New("--disconnect needs at least one retry to reconnect")
	}

	catalogue := make([]*billing.SkuDetails, 0, len(opts.skus))
	for _, sku := range opts.skus {
		catalogue = append(catalogue, &billing.SkuDetails{
			ProductID:         sku,
			Type:              billing.SkuTypeInApp,
			Title:             sku,
			PriceAmountMicros: opts.priceMicros,
			PriceCurrencyCode: opts.currency,
		})
	}

	svc, err := memory.NewService(log,
		memory.WithPackageName(cfg.PackageName),
		memory.WithSubscriptions(opts.subscriptions),
		memory.WithCatalogue(catalogue...),
	)
	if err != nil {
		return err
	}
	defer svc.Close()

	for i := 0; i < opts.setupFailures; i++ {
		svc.FailNextSetups(billing.ResponseCodeServiceUnavailable)
	}

	cached := skucache.NewInCache(svc, cfg.SkuCacheTTL)
	defer cached.Close()

	bus := billing.NewEventBus()
	events := event.NewChannelStream[*billing.Event, *billing.Event]("simulate", 64, func(e *billing.Event) (*billing.Event, bool) {
		return e.Clone(), true
	})
	defer events.Close()
	bus.AddHandler(event.StreamHandler[billing.EventKind, *billing.Event](events, time.Second, func(err error) {
		log.Warn("Dropped billing event", zap.Error(err))
	}))

	if cfg.NatsURL != "" {
		conn, err := event_nats.Connect(log, cfg.NatsURL)
		if err != nil {
			return err
		}
		defer conn.Close()

		bus.AddHandler(event_nats.NewHandler[billing.EventKind, *billing.Event](log, conn, cfg.NatsSubjectPrefix))
	}

	tokens, closeTokens, err := openTokenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTokens()

	reg := prometheus.NewRegistry()

	manager := billing.NewManager(
		log,
		cached,
		iap_memory.NewMemoryVerifier(svc.PublicKey()),
		billing.NewBusListener(log, bus),
		billing.WithRetryPolicy(billing.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			Backoff:    backoff.Constant(cfg.RetryDelay),
		}),
		billing.WithTokenStore(tokens),
		billing.WithMetrics(billing.NewMetrics(reg)),
		billing.WithStrictPurchaseFlow(cfg.StrictPurchaseFlow),
	)
	defer manager.Close()

	s := &simulation{
		log:     log,
		out:     out,
		svc:     svc,
		manager: manager,
		events:  events,
	}

	if err := s.run(ctx, opts); err != nil {
		return err
	}

	return printMetrics(out, reg)
}

func (s *simulation) run(ctx context.Context, opts simulateOptions) error {
	details, err := s.querySkuDetails(ctx, opts.skus)
	if err != nil {
		return err
	}

	for _, d := range details {
		fmt.Fprintf(s.out, "%-24s %s %s %s\n", "sku", d.ProductID, d.Price().StringFixed(2), d.PriceCurrencyCode)

		if err := s.buy(ctx, d); err != nil {
			return err
		}
	}

	if opts.disconnect {
		// The drop is delivered asynchronously, query once the connection is
		// back so the query never races the old one.
		s.svc.Disconnect()
		if _, err := s.waitFor(ctx, billing.EventKindSetupFinished); err != nil {
			return err
		}
	}

	s.manager.QueryPurchases()
	if _, err := s.waitFor(ctx, billing.EventKindQueryCompleted); err != nil {
		return err
	}

	fmt.Fprintf(s.out, "%-24s %d\n", "owned", len(s.manager.OwnedPurchases()))
	return nil
}

func (s *simulation) querySkuDetails(ctx context.Context, skus []string) ([]*billing.SkuDetails, error) {
	type answer struct {
		code    billing.ResponseCode
		details []*billing.SkuDetails
	}

	ch := make(chan answer, 1)
	s.manager.QuerySkuDetails(billing.SkuTypeInApp, skus, func(code billing.ResponseCode, details []*billing.SkuDetails) {
		// The query runs again after a dropped connection, only the first
		// answer matters.
		select {
		case ch <- answer{code: code, details: details}:
		default:
		}
	})

	// Setup failures are reported on the stream while the query waits for a
	// connection.
	for {
		select {
		case a := <-ch:
			if !a.code.IsOK() {
				return nil, fmt.Errorf("sku details query failed: %s", a.code)
			}
			return a.details, nil
		case e, ok := <-s.events.Channel():
			if !ok {
				return nil, errors.New("event stream closed")
			}
			s.print(e)
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for sku details: %w", ctx.Err())
		}
	}
}

func (s *simulation) buy(ctx context.Context, details *billing.SkuDetails) error {
	if err := s.manager.LaunchPurchaseFlow(details); err != nil {
		return err
	}

	e, err := s.waitFor(ctx, billing.EventKindPurchasesUpdated, billing.EventKindPurchaseFlowFailed)
	if err != nil {
		return err
	}
	if e.Kind == billing.EventKindPurchaseFlowFailed {
		return fmt.Errorf("purchase flow of %s failed: %s", details.ProductID, e.Code)
	}

	purchase := findPurchase(e.Purchases, details.ProductID)
	if purchase == nil {
		return fmt.Errorf("no verified purchase of %s", details.ProductID)
	}

	s.manager.Acknowledge(purchase)
	if _, err := s.waitFor(ctx, billing.EventKindPurchaseAcknowledged); err != nil {
		return err
	}

	if err := s.manager.Consume(ctx, purchase); err != nil {
		return err
	}
	_, err = s.waitFor(ctx, billing.EventKindConsumeFinished)
	return err
}

func (s *simulation) waitFor(ctx context.Context, kinds ...billing.EventKind) (*billing.Event, error) {
	for {
		select {
		case e, ok := <-s.events.Channel():
			if !ok {
				return nil, errors.New("event stream closed")
			}
			s.print(e)

			for _, kind := range kinds {
				if e.Kind == kind {
					return e, nil
				}
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %v: %w", kinds, ctx.Err())
		}
	}
}

func (s *simulation) print(e *billing.Event) {
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %s", e.Kind, e.Code)
	if e.Purchase != nil {
		fmt.Fprintf(&b, " %s", e.Purchase.OrderID)
	}
	for _, p := range e.Purchases {
		fmt.Fprintf(&b, " %s", p.OrderID)
	}
	fmt.Fprintln(s.out, b.String())
}

func findPurchase(purchases []*billing.Purchase, productID string) *billing.Purchase {
	for _, p := range purchases {
		if p.ProductID == productID && !p.Acknowledged {
			return p
		}
	}
	return nil
}

func printMetrics(out io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}

	var lines []string
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			var labels []string
			for _, label := range metric.GetLabel() {
				labels = append(labels, label.GetName()+"="+label.GetValue())
			}

			name := family.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			lines = append(lines, fmt.Sprintf("%-24s %s %v", "metric", name, metric.GetCounter().GetValue()))
		}
	}

	sort.Strings(lines)
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	return nil
}
