package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/mas-assistant/internal/assistant"
	"github.com/suPer8Hu/mas-assistant/internal/profile"
	"gorm.io/gorm"
)

type recordingAssistant struct {
	last   assistant.Request
	chunks []string
	err    error
}

func (a *recordingAssistant) reply() assistant.Response {
	return assistant.Response{
		Text:             strings.Join(a.chunks, ""),
		Model:            "fake-model",
		TokensUsed:       7,
		HadKnowledgeBase: true,
		Latency:          25 * time.Millisecond,
	}
}

func (a *recordingAssistant) ProcessMessage(_ context.Context, req assistant.Request) (assistant.Response, error) {
	a.last = req
	if a.err != nil {
		return assistant.Response{}, a.err
	}
	return a.reply(), nil
}

func (a *recordingAssistant) StreamMessage(_ context.Context, req assistant.Request) (<-chan string, <-chan assistant.Response, error) {
	a.last = req
	if a.err != nil {
		return nil, nil, a.err
	}
	chunks := make(chan string, len(a.chunks))
	done := make(chan assistant.Response, 1)
	for _, c := range a.chunks {
		chunks <- c
	}
	close(chunks)
	done <- a.reply()
	close(done)
	return chunks, done, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testProfile() profile.UserProfile {
	return profile.UserProfile{
		Role:           profile.RoleClient,
		Topic:          "fundraising",
		Identification: profile.IdentEmail,
		Email:          "Jane@Example.org",
	}
}

func newTestService(t *testing.T, a Assistant, window int) (*Service, *Repo, *User) {
	t.Helper()
	repo := NewRepo(openTestDB(t))
	svc := NewService(repo, a, window)
	u, err := svc.EnsureUser(context.Background(), testProfile(), "Jane")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	return svc, repo, u
}

func TestGenerateTitle(t *testing.T) {
	cases := map[string]string{
		"":                                  DefaultTitle,
		"   ":                               DefaultTitle,
		"How do I plan a gala":              "How do I plan a gala",
		"one two three four five six seven": "one two three four five six",
	}
	for in, want := range cases {
		if got := GenerateTitle(in); got != want {
			t.Fatalf("GenerateTitle(%q) = %q, want %q", in, got, want)
		}
	}

	long := strings.Repeat("a", 30) + " " + strings.Repeat("b", 30)
	got := GenerateTitle(long)
	if !strings.HasSuffix(got, "...") || len(got) != titleMaxChars+3 {
		t.Fatalf("expected truncated title, got %q", got)
	}
}

func TestEnsureUser_UpsertsByEmail(t *testing.T) {
	svc, repo, u := newTestService(t, &recordingAssistant{}, 20)
	if u.ID == 0 || u.Email != "jane@example.org" {
		t.Fatalf("unexpected user: %+v", u)
	}

	p := testProfile()
	p.Topic = "governance"
	again, err := svc.EnsureUser(context.Background(), p, "Jane D")
	if err != nil {
		t.Fatalf("ensure user again: %v", err)
	}
	if again.ID != u.ID {
		t.Fatalf("expected same id %d, got %d", u.ID, again.ID)
	}

	stored, err := repo.GetUserByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if stored.Topic != "governance" || stored.Name != "Jane D" {
		t.Fatalf("profile not refreshed: %+v", stored)
	}
	if len(stored.DataAccess) != 1 || stored.DataAccess[0] != profile.AccessPublic {
		t.Fatalf("unexpected data access: %v", stored.DataAccess)
	}

	anon := profile.UserProfile{Role: profile.RoleOther, Topic: "ai", Identification: profile.IdentAnonymous}
	if _, err := svc.EnsureUser(context.Background(), anon, ""); !errors.Is(err, ErrNoEmail) {
		t.Fatalf("expected ErrNoEmail, got %v", err)
	}
}

func TestSendMessage_WritesUserAndAssistant(t *testing.T) {
	a := &recordingAssistant{chunks: []string{"ok"}}
	svc, repo, u := newTestService(t, a, 20)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, u.ID, "", VisibilityPrivate)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if c.Title != DefaultTitle {
		t.Fatalf("unexpected title %q", c.Title)
	}

	msg, resp, err := svc.SendMessage(ctx, u.ID, c.ID, "Hello there", u.Profile())
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if resp.Text != "ok" || msg.Content != "ok" {
		t.Fatalf("unexpected reply: %q / %q", resp.Text, msg.Content)
	}
	if msg.Metadata == nil || msg.Metadata.Model != "fake-model" || msg.Metadata.TokensUsed != 7 ||
		!msg.Metadata.HadKnowledgeBase || msg.Metadata.ResponseTimeMS != 25 {
		t.Fatalf("unexpected metadata: %+v", msg.Metadata)
	}
	if len(a.last.PreviousMessages) != 0 {
		t.Fatalf("first message should have no history, got %d", len(a.last.PreviousMessages))
	}

	msgs, err := repo.ListMessages(ctx, c.ID, 10, "")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != profile.SenderUser || msgs[0].Content != "Hello there" {
		t.Fatalf("unexpected user msg: role=%q content=%q", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != profile.SenderAssistant || msgs[1].Metadata == nil {
		t.Fatalf("unexpected assistant msg: %+v", msgs[1])
	}

	got, err := repo.GetChat(ctx, u.ID, c.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got.Title != "Hello there" {
		t.Fatalf("expected title from first message, got %q", got.Title)
	}
}

func TestSendMessage_UsesContextWindow(t *testing.T) {
	a := &recordingAssistant{chunks: []string{"ok"}}
	window := 3
	svc, repo, u := newTestService(t, a, window)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, u.ID, "seeded chat", VisibilityPrivate)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	for i := 0; i < 5; i++ {
		role := profile.SenderUser
		if i%2 == 1 {
			role = profile.SenderAssistant
		}
		if err := repo.InsertMessage(ctx, &Message{
			ID:      fmt.Sprintf("00SEED%020d", i),
			ChatID:  c.ID,
			Role:    role,
			Content: fmt.Sprintf("seed %d", i),
		}); err != nil {
			t.Fatalf("seed msg %d: %v", i, err)
		}
	}

	if _, _, err := svc.SendMessage(ctx, u.ID, c.ID, "new", u.Profile()); err != nil {
		t.Fatalf("send message: %v", err)
	}

	hist := a.last.PreviousMessages
	if len(hist) != window {
		t.Fatalf("expected %d history turns, got %d", window, len(hist))
	}
	if hist[0].Content != "seed 2" || hist[len(hist)-1].Content != "seed 4" {
		t.Fatalf("history not oldest first: %q .. %q", hist[0].Content, hist[len(hist)-1].Content)
	}
	if a.last.Message != "new" {
		t.Fatalf("unexpected message %q", a.last.Message)
	}
}

func TestSendMessage_OtherUsersChatIsNotFound(t *testing.T) {
	svc, _, u := newTestService(t, &recordingAssistant{chunks: []string{"ok"}}, 20)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, u.ID, "mine", VisibilityPrivate)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	_, _, err = svc.SendMessage(ctx, u.ID+1, c.ID, "hi", u.Profile())
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, _, err := svc.SendMessage(ctx, u.ID, c.ID, "  ", u.Profile()); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestSendMessage_ValidationErrorWithdrawsUserTurn(t *testing.T) {
	a := &recordingAssistant{err: &assistant.ValidationError{Reason: "message is required"}}
	svc, repo, u := newTestService(t, a, 20)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, u.ID, "", VisibilityPrivate)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	_, _, err = svc.SendMessage(ctx, u.ID, c.ID, "How do I plan a gala", u.Profile())
	if !errors.Is(err, assistant.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	msgs, err := repo.ListMessages(ctx, c.ID, 10, "")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no stored messages, got %d", len(msgs))
	}
	got, err := repo.GetChat(ctx, u.ID, c.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got.Title != DefaultTitle {
		t.Fatalf("title = %q, want %q", got.Title, DefaultTitle)
	}
}

func TestSendMessage_InvalidProfileWritesNothing(t *testing.T) {
	orch := assistant.New(assistant.Config{})
	svc, repo, u := newTestService(t, orch, 20)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, u.ID, "", VisibilityPrivate)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	bad := u.Profile()
	bad.Topic = ""

	_, _, err = svc.SendMessage(ctx, u.ID, c.ID, "How do I plan a gala", bad)
	var verr *assistant.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if !errors.Is(err, profile.ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
	if _, _, err := svc.SendMessageStream(ctx, u.ID, c.ID, "How do I plan a gala", bad); !errors.Is(err, assistant.ErrValidation) {
		t.Fatalf("stream: expected validation error, got %v", err)
	}

	msgs, err := repo.ListMessages(ctx, c.ID, 10, "")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no stored messages, got %d", len(msgs))
	}
	got, err := repo.GetChat(ctx, u.ID, c.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got.Title != DefaultTitle {
		t.Fatalf("title = %q, want %q", got.Title, DefaultTitle)
	}
}

func TestSendMessageStream_StoresJoinedReply(t *testing.T) {
	a := &recordingAssistant{chunks: []string{"Hel", "lo", "!"}}
	svc, repo, u := newTestService(t, a, 20)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, u.ID, "stream", VisibilityPublic)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if c.Visibility != VisibilityPublic {
		t.Fatalf("unexpected visibility %q", c.Visibility)
	}

	chunks, result, err := svc.SendMessageStream(ctx, u.ID, c.ID, "hi", u.Profile())
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var b strings.Builder
	for ch := range chunks {
		b.WriteString(ch)
	}
	if b.String() != "Hello!" {
		t.Fatalf("unexpected streamed text %q", b.String())
	}
	res := <-result
	if res.Err != nil {
		t.Fatalf("stream result: %v", res.Err)
	}
	if res.Message == nil || res.Message.Content != "Hello!" {
		t.Fatalf("unexpected stored message: %+v", res.Message)
	}

	msgs, err := repo.ListMessages(ctx, c.ID, 10, "")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
}

func TestVote_UpsertsPerUserAndMessage(t *testing.T) {
	svc, repo, u := newTestService(t, &recordingAssistant{chunks: []string{"answer"}}, 20)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, u.ID, "votes", VisibilityPrivate)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	msg, _, err := svc.SendMessage(ctx, u.ID, c.ID, "question", u.Profile())
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	if _, err := svc.Vote(ctx, u.ID, msg.ID, Vote("sideways"), nil); !errors.Is(err, ErrInvalidVote) {
		t.Fatalf("expected ErrInvalidVote, got %v", err)
	}
	if _, err := svc.Vote(ctx, u.ID, msg.ID, VoteUp, nil); err != nil {
		t.Fatalf("vote up: %v", err)
	}
	fb := "  not quite  "
	v, err := svc.Vote(ctx, u.ID, msg.ID, VoteDown, &fb)
	if err != nil {
		t.Fatalf("vote down: %v", err)
	}
	if v.Vote != VoteDown || v.Feedback == nil || *v.Feedback != "not quite" {
		t.Fatalf("unexpected vote: %+v", v)
	}
	if v.Up != 0 || v.Down != 1 {
		t.Fatalf("vote totals = %d up / %d down, want 0 / 1", v.Up, v.Down)
	}

	up, down, err := repo.VoteCounts(ctx, msg.ID)
	if err != nil {
		t.Fatalf("vote counts: %v", err)
	}
	if up != 0 || down != 1 {
		t.Fatalf("expected 0 up / 1 down, got %d / %d", up, down)
	}

	if _, err := svc.Vote(ctx, u.ID+1, msg.ID, VoteUp, nil); !IsNotFound(err) {
		t.Fatalf("expected not found for another user, got %v", err)
	}
}

func TestSuggestedActions(t *testing.T) {
	svc, _, u := newTestService(t, &recordingAssistant{chunks: []string{"answer"}}, 20)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, u.ID, "actions", VisibilityPrivate)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	msg, _, err := svc.SendMessage(ctx, u.ID, c.ID, "question", u.Profile())
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	if _, err := svc.CreateAction(ctx, u.ID, msg.ID, " ", "", ""); !errors.Is(err, ErrEmptyAction) {
		t.Fatalf("expected ErrEmptyAction, got %v", err)
	}
	a, err := svc.CreateAction(ctx, u.ID, msg.ID, "Draft donor letter", "Use the template", "template")
	if err != nil {
		t.Fatalf("create action: %v", err)
	}

	list, err := svc.ListActions(ctx, u.ID, msg.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(list) != 1 || list[0].Completed {
		t.Fatalf("unexpected actions: %+v", list)
	}

	done, err := svc.CompleteAction(ctx, u.ID, a.ID)
	if err != nil {
		t.Fatalf("complete action: %v", err)
	}
	if !done.Completed {
		t.Fatalf("expected completed action")
	}
	if _, err := svc.CompleteAction(ctx, u.ID+1, a.ID); !IsNotFound(err) {
		t.Fatalf("expected not found for another user, got %v", err)
	}
}

func TestDeleteChat_RemovesMessages(t *testing.T) {
	svc, repo, u := newTestService(t, &recordingAssistant{chunks: []string{"answer"}}, 20)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, u.ID, "to delete", VisibilityPrivate)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	msg, _, err := svc.SendMessage(ctx, u.ID, c.ID, "question", u.Profile())
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if _, err := svc.Vote(ctx, u.ID, msg.ID, VoteUp, nil); err != nil {
		t.Fatalf("vote: %v", err)
	}

	if err := svc.DeleteChat(ctx, u.ID+1, c.ID); !IsNotFound(err) {
		t.Fatalf("expected not found for another user, got %v", err)
	}
	if err := svc.DeleteChat(ctx, u.ID, c.ID); err != nil {
		t.Fatalf("delete chat: %v", err)
	}
	msgs, err := repo.ListMessages(ctx, c.ID, 10, "")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected messages removed, got %d", len(msgs))
	}
	if _, err := repo.GetVote(ctx, u.ID, msg.ID); !IsNotFound(err) {
		t.Fatalf("expected vote removed, got %v", err)
	}
}

func TestInsertAnalytics_Idempotent(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	row := Analytics{ID: "01ANALYTICS000000000000001", At: time.Now().UTC(), Outcome: "ok", UserHash: "abc"}
	if err := repo.InsertAnalytics(ctx, &row); err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := row
	if err := repo.InsertAnalytics(ctx, &dup); err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}

	rows, err := repo.ListAnalytics(ctx, AnalyticsFilter{UserHash: "abc"})
	if err != nil {
		t.Fatalf("list analytics: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
}
