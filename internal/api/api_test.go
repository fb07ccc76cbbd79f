package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/keepintouch-app/keepintouch/internal/messaging"
	"github.com/keepintouch-app/keepintouch/internal/models"
	"github.com/keepintouch-app/keepintouch/internal/outreach"
	"github.com/keepintouch-app/keepintouch/internal/scheduler"
	"github.com/keepintouch-app/keepintouch/internal/store"
	"github.com/keepintouch-app/keepintouch/internal/testutil"
	"github.com/keepintouch-app/keepintouch/internal/whatsappcloud"
)

type stubVerifier struct{ token string }

func (v stubVerifier) VerifyToken(token string) bool { return token != "" && token == v.token }

type stubReplier struct {
	reply string
	err   error
}

func (g stubReplier) GenerateReply(ctx context.Context, inbound string) (string, error) {
	return g.reply, g.err
}

type testEnv struct {
	server *Server
	dir    *testutil.FakeDirectory
	mock   *whatsappcloud.MockClient
	st     *store.InMemoryStore
	sched  *scheduler.Scheduler
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	dir := &testutil.FakeDirectory{}
	mock := whatsappcloud.NewMockClient()
	msg := messaging.NewCloudAPIService(mock)
	sched := scheduler.NewScheduler()
	st := store.NewInMemoryStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := outreach.WithClock(func() time.Time { return now })

	poller := outreach.NewPoller(dir, msg, clock, outreach.WithRecorder(st))
	registrar := outreach.NewRegistrar(sched, dir, msg, clock, outreach.WithRecorder(st))

	t.Cleanup(sched.Stop)
	return &testEnv{
		server: NewServer(msg, sched, registrar, poller, dir, st, opts...),
		dir:    dir,
		mock:   mock,
		st:     st,
		sched:  sched,
	}
}

func (e *testEnv) do(t *testing.T, method, url string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.CreateHTTPRequest(t, method, url, body)
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func TestWebhookVerification(t *testing.T) {
	env := newTestEnv(t, WithWebhookVerifier(stubVerifier{token: "secret"}))

	rr := env.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=secret&hub.challenge=12345", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "valid verification")
	if rr.Body.String() != "12345" {
		t.Errorf("expected challenge echo, got %q", rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "wrong token")

	rr = env.do(t, http.MethodGet, "/webhook?hub.mode=other&hub.verify_token=secret", nil)
	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "wrong mode")
}

func TestWebhookVerificationWithoutVerifier(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=any", nil)
	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "no verifier configured")
}

func notification(from, body string) models.NotificationPayload {
	return models.NotificationPayload{
		Entry: []models.NotificationEntry{{
			Changes: []models.NotificationChange{{
				Value: models.NotificationValue{
					Messages: []models.InboundMessage{{From: from, Text: &models.InboundText{Body: body}}},
				},
			}},
		}},
	}
}

func TestWebhookNotificationRecordsResponse(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/webhook", notification("15551234567", "hey there"))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "notification")

	responses, _ := env.st.GetResponses()
	if len(responses) != 1 || responses[0].From != "15551234567" || responses[0].Body != "hey there" {
		t.Errorf("unexpected stored responses: %+v", responses)
	}
	if len(env.mock.Sent) != 0 {
		t.Error("no auto-reply without a reply generator")
	}
}

func TestWebhookNotificationAutoReply(t *testing.T) {
	env := newTestEnv(t, WithReplyGenerator(stubReplier{reply: "Good to hear from you!"}))

	rr := env.do(t, http.MethodPost, "/webhook", notification("15551234567", "hello"))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "notification")

	if len(env.mock.Sent) != 1 || env.mock.Sent[0].To != "15551234567" || env.mock.Sent[0].Body != "Good to hear from you!" {
		t.Errorf("unexpected auto-reply sends: %+v", env.mock.Sent)
	}
}

func TestWebhookNotificationReplyFailureStillAcknowledged(t *testing.T) {
	env := newTestEnv(t, WithReplyGenerator(stubReplier{err: errors.New("model down")}))

	rr := env.do(t, http.MethodPost, "/webhook", notification("15551234567", "hello"))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook must acknowledge despite reply failure")
}

func TestWebhookNotificationInvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty body")
}

func TestResyncHandler(t *testing.T) {
	env := newTestEnv(t)
	env.dir.Contacts = []models.Contact{
		{ID: 1, Name: "Ana", Number: "+100", Cadence: 7, Birthday: time.Date(1990, 7, 1, 0, 0, 0, 0, time.UTC)},
	}

	rr := env.do(t, http.MethodPost, "/resync", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "resync")
	testutil.AssertJSONResponse(t, rr, "ok")

	jobs := env.sched.ListActive()
	if len(jobs) != 2 {
		t.Errorf("expected touchpoint + birthday jobs, got %v", jobs)
	}
}

func TestResyncHandlerFetchFailure(t *testing.T) {
	env := newTestEnv(t)
	env.dir.ContactsErr = errors.New("sheet down")

	rr := env.do(t, http.MethodPost, "/resync", nil)
	testutil.AssertHTTPStatus(t, http.StatusBadGateway, rr.Code, "resync fetch failure")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestPollTouchpointsHandler(t *testing.T) {
	env := newTestEnv(t)
	env.dir.Contacts = []models.Contact{
		{ID: 1, Name: "Ana", Number: "+100", Cadence: 7, LastContact: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	rr := env.do(t, http.MethodPost, "/poll/touchpoints", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "poll touchpoints")
	resp := testutil.AssertJSONResponse(t, rr, "ok")

	result, ok := resp["result"].(map[string]interface{})
	if !ok || result["work_found"] != true {
		t.Errorf("expected work_found=true, got %v", resp["result"])
	}
	if len(env.mock.Sent) != 1 {
		t.Errorf("expected one touchpoint send, got %+v", env.mock.Sent)
	}
}

func TestPollHandlerFetchFailure(t *testing.T) {
	env := newTestEnv(t)
	env.dir.MessagesErr = errors.New("sheet down")

	rr := env.do(t, http.MethodPost, "/poll/messages", nil)
	testutil.AssertHTTPStatus(t, http.StatusBadGateway, rr.Code, "poll fetch failure")
}

func TestPollHandlerMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/poll/birthdays", nil)
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET poll")
}

func TestContactsAndMessagesHandlers(t *testing.T) {
	env := newTestEnv(t)
	env.dir.Contacts = []models.Contact{{ID: 1, Name: "Ana", Number: "+100", Cadence: 7}}
	env.dir.Messages = []models.ScheduledMessage{{ID: 5, Number: "+100", Message: "Hi", Timestamp: time.Now()}}

	rr := env.do(t, http.MethodGet, "/contacts", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "contacts")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	if list, ok := resp["result"].([]interface{}); !ok || len(list) != 1 {
		t.Errorf("unexpected contacts result: %v", resp["result"])
	}

	rr = env.do(t, http.MethodGet, "/messages", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "messages")
	testutil.AssertJSONResponse(t, rr, "ok")
}

func TestSendHandler(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/send", models.SendRequest{To: "+1 (555) 123-4567", Body: "hello"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "send")

	if len(env.mock.Sent) != 1 || env.mock.Sent[0].To != "15551234567" {
		t.Errorf("unexpected sends: %+v", env.mock.Sent)
	}
	receipts, _ := env.st.GetReceipts()
	if len(receipts) != 1 || receipts[0].Kind != models.ReceiptKindManual {
		t.Errorf("expected one manual receipt, got %+v", receipts)
	}
}

func TestSendHandlerValidation(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/send", models.SendRequest{To: "abc", Body: "hello"})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid recipient")

	rr = env.do(t, http.MethodPost, "/send", models.SendRequest{To: "15551234567"})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty body")
}

func TestReceiptsAndResponsesHandlers(t *testing.T) {
	env := newTestEnv(t)
	env.st.AddReceipt(models.Receipt{To: "+100", Kind: models.ReceiptKindTouchpoint, Status: models.MessageStatusSent, Time: 1})
	env.st.AddResponse(models.Response{From: "+100", Body: "hi", Time: 2})

	rr := env.do(t, http.MethodGet, "/receipts", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "receipts")
	testutil.AssertJSONResponse(t, rr, "ok")

	rr = env.do(t, http.MethodGet, "/responses", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "responses")
	testutil.AssertJSONResponse(t, rr, "ok")
}

func TestJobsHandler(t *testing.T) {
	env := newTestEnv(t)
	env.sched.Schedule("touchpoint_+100", scheduler.RunEvery(time.Hour), func() {})

	rr := env.do(t, http.MethodGet, "/jobs", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "jobs")
	resp := testutil.AssertJSONResponse(t, rr, "ok")

	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result: %v", resp["result"])
	}
	if result["count"] != float64(1) {
		t.Errorf("expected count 1, got %v", result["count"])
	}
}
