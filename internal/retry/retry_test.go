package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBootstrapDefaults(t *testing.T) {
	config := BootstrapDefaults()
	if config.MaxAttempts != 5 {
		t.Errorf("Expected MaxAttempts=5, got %d", config.MaxAttempts)
	}
	if config.BaseDelay != 3*time.Second {
		t.Errorf("Expected BaseDelay=3s, got %v", config.BaseDelay)
	}
	if config.MaxDelay != 1*time.Minute {
		t.Errorf("Expected MaxDelay=1m, got %v", config.MaxDelay)
	}
	if config.JitterPercent != 10 {
		t.Errorf("Expected JitterPercent=10, got %d", config.JitterPercent)
	}
}

func TestPostgreSQLDefaults(t *testing.T) {
	config := PostgreSQLDefaults()
	if config.MaxAttempts != 3 {
		t.Errorf("Expected MaxAttempts=3, got %d", config.MaxAttempts)
	}
	if config.BaseDelay != 500*time.Millisecond {
		t.Errorf("Expected BaseDelay=500ms, got %v", config.BaseDelay)
	}
	if config.MaxDelay != 10*time.Second {
		t.Errorf("Expected MaxDelay=10s, got %v", config.MaxDelay)
	}
}

func fastConfig() *Config {
	return &Config{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		JitterPercent: 10,
	}
}

func TestWithOperation_Success(t *testing.T) {
	callCount := 0
	operation := func() error {
		callCount++
		return nil
	}

	err := WithOperation(context.Background(), fastConfig(), operation, "test-operation")

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected operation to be called once, got %d", callCount)
	}
}

func TestWithOperation_RecoversAfterFailures(t *testing.T) {
	callCount := 0
	operation := func() error {
		callCount++
		if callCount < 3 {
			return errors.New("not yet")
		}
		return nil
	}

	err := WithOperation(context.Background(), fastConfig(), operation, "test-operation")

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected operation to be called 3 times, got %d", callCount)
	}
}

func TestWithOperation_ExceedsMaxAttempts(t *testing.T) {
	callCount := 0
	operation := func() error {
		callCount++
		return errors.New("persistent failure")
	}

	err := WithOperation(context.Background(), fastConfig(), operation, "test-operation")

	if err == nil {
		t.Error("Expected an error, got nil")
	}
	// go-retry does MaxAttempts + 1 total attempts (initial + retries)
	if callCount != 4 {
		t.Errorf("Expected operation to be called 4 times (initial + 3 retries), got %d", callCount)
	}
}

func TestWithOperation_PermanentStops(t *testing.T) {
	callCount := 0
	operation := func() error {
		callCount++
		return fmt.Errorf("table missing: %w", ErrPermanent)
	}

	err := WithOperation(context.Background(), fastConfig(), operation, "test-operation")

	if !errors.Is(err, ErrPermanent) {
		t.Errorf("Expected permanent error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected operation to be called once, got %d", callCount)
	}
}

func TestWithOperation_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := &Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second}
	err := WithOperation(ctx, config, func() error { return errors.New("down") }, "test-operation")

	if err == nil {
		t.Error("Expected an error, got nil")
	}
}

func TestCreateBackoff(t *testing.T) {
	config := &Config{
		MaxAttempts:   5,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		JitterPercent: 20,
	}

	backoff := config.CreateBackoff()
	if backoff == nil {
		t.Error("Expected backoff to be created, got nil")
	}
}
