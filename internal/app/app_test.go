package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"streakwatch/internal/config"
	"streakwatch/internal/loyalty"
	"streakwatch/internal/session"
	"streakwatch/internal/storage"
)

type stubSigner struct {
	addr common.Address
	err  error
}

func (s stubSigner) SignerAddress() (common.Address, error) { return s.addr, s.err }

func testApp(cfg config.Config) (*App, *bytes.Buffer) {
	var out bytes.Buffer
	a := NewApp(&cfg, zerolog.Nop())
	a.Out = &out
	return a, &out
}

func TestParseCommand(t *testing.T) {
	cmd, err := parseCommand("trade 1.5 usdc")
	if err != nil || cmd.kind != cmdTrade || cmd.amount != "1.5" || cmd.token != "usdc" {
		t.Fatalf("unexpected trade command: %+v %v", cmd, err)
	}

	cmd, err = parseCommand("  account 0x00000000000000000000000000000000000000aa ")
	if err != nil || cmd.kind != cmdAccount || cmd.account != common.HexToAddress("0xaa") {
		t.Fatalf("unexpected account command: %+v %v", cmd, err)
	}

	cmd, err = parseCommand("account")
	if err != nil || cmd.account != (common.Address{}) {
		t.Fatalf("bare account should disconnect: %+v %v", cmd, err)
	}

	if cmd, _ := parseCommand("q"); cmd.kind != cmdQuit {
		t.Fatalf("q should quit, got %+v", cmd)
	}
	if _, err := parseCommand("trade"); !loyalty.IsValidation(err) {
		t.Fatalf("trade without amount should be a validation error, got %v", err)
	}
	if _, err := parseCommand("account nope"); !loyalty.IsValidation(err) {
		t.Fatalf("bad address should be a validation error, got %v", err)
	}
	if _, err := parseCommand("dance"); !errors.Is(err, errUnknownCommand) {
		t.Fatalf("expected unknown command, got %v", err)
	}
}

func TestResolveAccountOrder(t *testing.T) {
	flagAddr := "0x00000000000000000000000000000000000000f1"
	cfgAddr := "0x00000000000000000000000000000000000000c1"
	signer := stubSigner{addr: common.HexToAddress("0x51")}

	a, _ := testApp(config.Config{
		Session:  config.SessionConfig{Account: cfgAddr},
		Ethereum: config.EthereumConfig{PrivateKey: "key"},
	})

	got, err := a.resolveAccount(flagAddr, signer)
	if err != nil || got != common.HexToAddress(flagAddr) {
		t.Fatalf("flag should win: %s %v", got.Hex(), err)
	}
	got, err = a.resolveAccount("", signer)
	if err != nil || got != common.HexToAddress(cfgAddr) {
		t.Fatalf("config should be second: %s %v", got.Hex(), err)
	}

	a.Config.Session.Account = ""
	got, err = a.resolveAccount("", signer)
	if err != nil || got != signer.addr {
		t.Fatalf("signer should be last: %s %v", got.Hex(), err)
	}

	a.Config.Ethereum.PrivateKey = ""
	if _, err := a.requireAccount("", signer); !errors.Is(err, loyalty.ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
	if _, err := a.resolveAccount("0x123", signer); !loyalty.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	a, _ := testApp(config.Config{Session: config.SessionConfig{HotStreakThreshold: 5}})
	p := a.policy()
	if p.HotStreakThreshold != 5 || p.MaxFeeBps != 30 || p.DiscountFeeBps != 15 {
		t.Fatalf("unexpected policy: %+v", p)
	}
}

func TestDownsampleSnapshots(t *testing.T) {
	snaps := make([]storage.SnapshotRecord, 10)
	for i := range snaps {
		snaps[i].StreakCount = int64(i)
	}

	got := downsampleSnapshots(snaps, 4)
	if len(got) != 4 {
		t.Fatalf("expected 4 points, got %d", len(got))
	}
	if got[0].StreakCount != 0 || got[3].StreakCount != 9 {
		t.Fatalf("endpoints should be kept: %+v", got)
	}
	if len(downsampleSnapshots(snaps, 20)) != 10 {
		t.Fatal("no downsampling expected below max")
	}
}

func TestWriteSnapshotsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.csv")
	snaps := []storage.SnapshotRecord{{
		Account:          "0xabc",
		FetchedAt:        time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC),
		StreakCount:      3,
		FeeBps:           15,
		CumulativeVolume: decimal.RequireFromString("1.25"),
		NextDeadline:     1_700_000_000,
	}}

	if err := writeSnapshotsCSV(path, snaps); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and one row, got %d", len(rows))
	}
	row := rows[1]
	if row[0] != "2025-02-01T08:00:00Z" || row[2] != "3" || row[3] != "0.15%" || row[4] != "1.25" || row[5] != "" {
		t.Fatalf("unexpected row: %v", row)
	}
}

func TestExportRequiresOutput(t *testing.T) {
	a, _ := testApp(config.Config{})
	if err := a.Export(t.Context(), ExportOptions{}); err == nil {
		t.Fatal("export without --csv/--png should fail")
	}
}

func TestCommandGroupStopCancelsPendingCommands(t *testing.T) {
	group := newCommandGroup(context.Background())
	started := make(chan struct{})
	var cancelled bool
	group.goRun(func(ctx context.Context) {
		close(started)
		// stands in for a trade waiting on its receipt
		<-ctx.Done()
		cancelled = true
	})
	<-started

	done := make(chan struct{})
	go func() {
		group.stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop should cancel in-flight commands instead of waiting on them")
	}
	if !cancelled {
		t.Fatal("command should observe cancellation")
	}
}

func TestRefreshedSinceIgnoresReadsBeforeConfirmation(t *testing.T) {
	submitted := time.Unix(1_700_000_000, 0)
	confirmed := submitted.Add(12 * time.Second)

	view := session.View{Ready: true}
	view.Snapshot.FetchedAt = submitted.Add(5 * time.Second)
	if refreshedSince(view, confirmed) {
		t.Fatal("a poll that landed while the trade was mining must not count as the post-trade refresh")
	}

	view.Snapshot.FetchedAt = confirmed.Add(2 * time.Second)
	if !refreshedSince(view, confirmed) {
		t.Fatal("a read after confirmation should count")
	}

	view.Ready = false
	if refreshedSince(view, confirmed) {
		t.Fatal("a view without a loaded snapshot never counts")
	}
}
