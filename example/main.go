package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jpalmerr/pulsewatch"
	"github.com/jpalmerr/pulsewatch/model"
)

const demoSecret = "pulsewatch-demo-secret"

func main() {
	// start mock server (see mock_server.go)
	go StartMockHealthServer(":9999")
	time.Sleep(100 * time.Millisecond)

	var devices []model.Device
	for _, name := range []string{"users-api", "orders-api", "billing-db"} {
		devices = append(devices, model.Device{
			Name:     name,
			Type:     model.TypeServer,
			CheckURL: "http://localhost:9999/health?device=" + name,
		})
	}
	// a pinged device; needs ICMP permission (net.ipv4.ping_group_range or root)
	devices = append(devices, model.Device{Name: "loopback", Host: "127.0.0.1", Type: model.TypeRouter})

	m, err := pulsewatch.New(
		pulsewatch.WithJWTSecret(demoSecret),
		pulsewatch.WithDevices(devices...),
		pulsewatch.WithCheckInterval(5*time.Second),
		pulsewatch.WithMaxConcurrency(4),
		pulsewatch.WithPort(8080),
		pulsewatch.WithCheckCallback(func(r model.CheckResult) {
			if r.Changed() {
				slog.Info("status changed", "device", r.Device.Name, "from", r.PreviousStatus, "to", r.Status)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create monitor", "error", err)
		os.Exit(1)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      "demo",
		"username": "demo",
		"role":     "admin",
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
	}).SignedString([]byte(demoSecret))
	if err != nil {
		slog.Error("failed to sign demo token", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  PulseWatch Demo")
	fmt.Println()
	fmt.Println("  Devices: 3 mock HTTP services that cycle healthy, slow and failing,")
	fmt.Println("           plus 127.0.0.1 over ICMP")
	fmt.Println()
	fmt.Println("  Try:")
	fmt.Printf("    curl -H 'Authorization: Bearer %s' http://localhost:8080/api/devices\n", token)
	fmt.Printf("    websocat 'ws://localhost:8080/ws?token=%s'\n", token)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := m.Start(ctx); err != nil {
		slog.Error("pulsewatch error", "error", err)
		os.Exit(1)
	}
}
