package command

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	commands := []*Command{
		{ID: "c1", Input: "quote 1 eth usdc", Status: StatusPending, MaxRetries: 3},
		{ID: "c2", Input: "swap 1 eth for usdc", Status: StatusFailed, MaxRetries: 3},
		{ID: "c3", Input: "balance of eth", Status: StatusSucceeded, MaxRetries: 3},
	}

	for _, cmd := range commands {
		if err := store.Create(ctx, cmd); err != nil {
			t.Fatalf("create command %s: %v", cmd.ID, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "c2", CodeCommandProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c3", Outcome{Success: true, Message: "ok", Tool: "starknet_transfer"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.commands["c1"].UpdatedAt = base.Unix()
	store.commands["c2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.commands["c3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(all))
	}
	if all[0].ID != "c3" {
		t.Fatalf("expected newest command first, got %s", all[0].ID)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "c2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	withResult, err := store.List(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	if err != nil {
		t.Fatalf("list with result: %v", err)
	}
	if len(withResult) != 1 || withResult[0].ID != "c3" {
		t.Fatalf("unexpected result list: %+v", withResult)
	}

	since := base.Add(15 * time.Second)
	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(since)}))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 commands to match since filter, got %d", len(recent))
	}

	matched, err := store.List(ctx, buildListOptions([]ListOption{WithQuery("balance")}))
	if err != nil {
		t.Fatalf("list with query: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "c3" {
		t.Fatalf("unexpected query list: %+v", matched)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Command{ID: "c1", Input: "quote 1 eth usdc", Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := store.Claim(ctx, "c1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed command: %+v", claimed)
	}

	// 运行中的命令不可重复领取。
	if _, err := store.Claim(ctx, "c1"); !IsCommandError(err, CodeCommandConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if err := store.MarkFailed(ctx, "c1", CodeCommandProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "c1"); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "c1", CodeCommandProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// 重试次数耗尽后领取返回 ErrCommandExhausted。
	if _, err := store.Claim(ctx, "c1"); !IsCommandError(err, CodeCommandExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}

	if err := store.MarkSucceeded(ctx, "c1", Outcome{Success: true, Message: "ok"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := store.Claim(ctx, "c1"); !IsCommandError(err, CodeCommandCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
}

func TestMemoryStoreMarkFailedRetryableStaysPending(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Command{ID: "c1", Input: "quote 1 eth usdc", Status: StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, "c1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "c1", CodeCommandProcessing, "上游超时", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	cmd, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// 重试间隙不是终态，命令回到 pending 等待下一次领取。
	if cmd.Status != StatusPending {
		t.Fatalf("expected pending between retries, got %s", cmd.Status)
	}
	if cmd.LastError != "上游超时" || cmd.ErrorCode != string(CodeCommandProcessing) {
		t.Fatalf("unexpected failure record: %+v", cmd)
	}

	if err := store.MarkFailed(ctx, "c1", CodeCommandProcessing, "上游超时", true); err != nil {
		t.Fatalf("mark failed terminal: %v", err)
	}
	cmd, err = store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cmd.Status != StatusFailed {
		t.Fatalf("expected terminal failure, got %s", cmd.Status)
	}
	// 终态失败的命令不可再领取。
	if _, err := store.Claim(ctx, "c1"); !IsCommandError(err, CodeCommandExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-3 * time.Minute)
	commands := []*Command{
		{ID: "a", Input: "quote 1 eth usdc", Status: StatusPending, MaxRetries: 3},
		{ID: "b", Input: "swap 1 eth for usdc", Status: StatusPending, MaxRetries: 3},
		{ID: "c", Input: "balance of eth", Status: StatusPending, MaxRetries: 3},
	}

	for _, cmd := range commands {
		if err := store.Create(ctx, cmd); err != nil {
			t.Fatalf("create command %s: %v", cmd.ID, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "b", CodeCommandProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", Outcome{Success: true, Message: "ok"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.commands["a"].UpdatedAt = base.Unix()
	store.commands["b"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.commands["c"].UpdatedAt = base.Add(2 * time.Minute).Unix()
	store.mu.Unlock()

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.NewestUpdatedAt != base.Add(2*time.Minute).Unix() {
		t.Fatalf("unexpected newest timestamp: %d", stats.NewestUpdatedAt)
	}
	if stats.OldestUpdatedAt != base.Unix() {
		t.Fatalf("unexpected oldest timestamp: %d", stats.OldestUpdatedAt)
	}

	withResults, err := store.Stats(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	if err != nil {
		t.Fatalf("stats with result: %v", err)
	}
	if withResults.Total != 1 || withResults.Succeeded != 1 {
		t.Fatalf("unexpected stats with result: %+v", withResults)
	}

	failedOnly, err := store.Stats(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("stats failed only: %v", err)
	}
	if failedOnly.Total != 1 || failedOnly.Failed != 1 {
		t.Fatalf("unexpected failed stats: %+v", failedOnly)
	}
}
