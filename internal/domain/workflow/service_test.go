package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/preop/preop/internal/domain/evaluation"
	"github.com/preop/preop/internal/domain/patient"
	"github.com/preop/preop/internal/platform/ai"
	"github.com/preop/preop/internal/platform/notification"
)

// -- In-memory ledger with the same guard semantics as the SQL insert --

type mockLedger struct {
	steps map[uuid.UUID]map[Step]time.Time
}

func newMockLedger() *mockLedger {
	return &mockLedger{steps: make(map[uuid.UUID]map[Step]time.Time)}
}

func (m *mockLedger) Completed(_ context.Context, patientID uuid.UUID) (map[Step]time.Time, error) {
	out := make(map[Step]time.Time)
	for st, at := range m.steps[patientID] {
		out[st] = at
	}
	return out, nil
}

func (m *mockLedger) MarkCompleted(_ context.Context, patientID uuid.UUID, step Step, prereq *Step) (bool, error) {
	marked, ok := m.steps[patientID]
	if !ok {
		marked = make(map[Step]time.Time)
		m.steps[patientID] = marked
	}
	if _, frozen := marked[StepCompleted]; frozen {
		return false, nil
	}
	if prereq != nil {
		if _, done := marked[*prereq]; !done {
			return false, nil
		}
	}
	if _, done := marked[step]; done {
		return false, nil
	}
	marked[step] = time.Now()
	return true, nil
}

// -- Patient store mock --

type mockPatientRepo struct {
	patients map[uuid.UUID]*patient.Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[uuid.UUID]*patient.Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *patient.Patient) error {
	p.ID = uuid.New()
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) GetByToken(_ context.Context, token string) (*patient.Patient, error) {
	for _, p := range m.patients {
		if p.Token == token {
			return p, nil
		}
	}
	return nil, patient.ErrNotFound
}

func (m *mockPatientRepo) GetByDNI(_ context.Context, dni string) (*patient.Patient, error) {
	for _, p := range m.patients {
		if p.DNI == dni {
			return p, nil
		}
	}
	return nil, patient.ErrNotFound
}

func (m *mockPatientRepo) Update(_ context.Context, p *patient.Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return patient.ErrNotFound
	}
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) UpdateStatus(_ context.Context, id uuid.UUID, status patient.Status) error {
	p, ok := m.patients[id]
	if !ok {
		return patient.ErrNotFound
	}
	p.Status = status
	return nil
}

func (m *mockPatientRepo) List(_ context.Context, _ patient.ListFilter, _, _ int) ([]*patient.Patient, int, error) {
	var out []*patient.Patient
	for _, p := range m.patients {
		out = append(out, p)
	}
	return out, len(out), nil
}

// -- Evaluation store mock --

type mockEvalRepo struct {
	messages        []*evaluation.ConversationMessage
	recommendations map[uuid.UUID][]*evaluation.Recommendation
	consents        map[uuid.UUID]map[string]*evaluation.ConsentRecord
	intakes         map[uuid.UUID]*evaluation.IntakeResponse
}

func newMockEvalRepo() *mockEvalRepo {
	return &mockEvalRepo{
		recommendations: make(map[uuid.UUID][]*evaluation.Recommendation),
		consents:        make(map[uuid.UUID]map[string]*evaluation.ConsentRecord),
		intakes:         make(map[uuid.UUID]*evaluation.IntakeResponse),
	}
}

func (m *mockEvalRepo) AppendMessage(_ context.Context, msg *evaluation.ConversationMessage) error {
	msg.ID = uuid.New()
	msg.CreatedAt = time.Now()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockEvalRepo) ListConversation(_ context.Context, patientID uuid.UUID) ([]*evaluation.ConversationMessage, error) {
	var out []*evaluation.ConversationMessage
	for _, msg := range m.messages {
		if msg.PatientID == patientID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockEvalRepo) InsertRecommendations(_ context.Context, patientID uuid.UUID, recs []*evaluation.Recommendation) error {
	for _, rec := range recs {
		rec.ID = uuid.New()
		rec.CreatedAt = time.Now()
	}
	m.recommendations[patientID] = recs
	return nil
}

func (m *mockEvalRepo) ListRecommendations(_ context.Context, patientID uuid.UUID) ([]*evaluation.Recommendation, error) {
	return m.recommendations[patientID], nil
}

func (m *mockEvalRepo) CountRecommendations(_ context.Context, patientID uuid.UUID) (int, error) {
	return len(m.recommendations[patientID]), nil
}

func (m *mockEvalRepo) GetConsents(_ context.Context, patientID uuid.UUID) ([]*evaluation.ConsentRecord, error) {
	var out []*evaluation.ConsentRecord
	for _, c := range m.consents[patientID] {
		out = append(out, c)
	}
	return out, nil
}

func (m *mockEvalRepo) GetConsent(_ context.Context, patientID uuid.UUID, consentType string) (*evaluation.ConsentRecord, error) {
	return m.consents[patientID][consentType], nil
}

func (m *mockEvalRepo) UpsertConsent(_ context.Context, c *evaluation.ConsentRecord) error {
	byType, ok := m.consents[c.PatientID]
	if !ok {
		byType = make(map[string]*evaluation.ConsentRecord)
		m.consents[c.PatientID] = byType
	}
	existing, ok := byType[c.ConsentType]
	if !ok {
		c.ID = uuid.New()
		c.CreatedAt = time.Now()
		byType[c.ConsentType] = c
		return nil
	}
	existing.Content = c.Content
	if !existing.Accepted && c.Accepted {
		existing.Accepted = true
		existing.SignatureData = c.SignatureData
		existing.AcceptedAt = c.AcceptedAt
	}
	*c = *existing
	return nil
}

func (m *mockEvalRepo) SaveIntake(_ context.Context, ir *evaluation.IntakeResponse) error {
	ir.UpdatedAt = time.Now()
	m.intakes[ir.PatientID] = ir
	return nil
}

func (m *mockEvalRepo) GetIntake(_ context.Context, patientID uuid.UUID) (*evaluation.IntakeResponse, error) {
	ir, ok := m.intakes[patientID]
	if !ok {
		return nil, evaluation.ErrIntakeNotFound
	}
	return ir, nil
}

// -- Test environment --

type testEnv struct {
	svc      *Service
	evals    *evaluation.Service
	patients *patient.Service
	ledger   *mockLedger
	patient  *patient.Patient
	token    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	patients := patient.NewService(newMockPatientRepo())
	evals := evaluation.NewService(newMockEvalRepo())
	ledger := newMockLedger()
	notifier := notification.NewService(&notification.MockSMSSender{}, notification.NewTemplateEngine(), zerolog.Nop())

	svc := NewService(ledger, patients, evals, ai.NewScriptedChat(), notifier, zerolog.Nop())
	evals.SetCompletionChecker(svc)

	p := &patient.Patient{DNI: "12345678A", Name: "Ana Torres", Email: "ana@example.com"}
	if err := patients.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient() error: %v", err)
	}

	return &testEnv{svc: svc, evals: evals, patients: patients, ledger: ledger, patient: p, token: p.Token}
}

// driveToRecommendations answers the scripted interview until the AI has
// produced recommendations.
func (env *testEnv) driveToRecommendations(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		reply, err := env.svc.Converse(ctx, env.token, fmt.Sprintf("respuesta %d", i+1))
		if err != nil {
			t.Fatalf("Converse() turn %d error: %v", i+1, err)
		}
		if reply.RecommendationsGenerated {
			return
		}
	}
	t.Fatal("scripted chat never generated recommendations")
}

// -- Tests --

func TestCurrentStep_FreshPatient(t *testing.T) {
	env := newTestEnv(t)

	step, err := env.svc.CurrentStep(context.Background(), env.token)
	if err != nil {
		t.Fatalf("CurrentStep() error: %v", err)
	}
	if step != StepDataConsent {
		t.Errorf("expected data_consent, got %s", step)
	}

	// Idempotent: repeated reads with no writes return the same value.
	again, _ := env.svc.CurrentStep(context.Background(), env.token)
	if again != step {
		t.Errorf("expected stable current step, got %s then %s", step, again)
	}
}

func TestCurrentStep_UnknownToken(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.CurrentStep(context.Background(), "bogus"); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
	if _, err := env.svc.Validate(context.Background(), "bogus", StepChat); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound from Validate, got %v", err)
	}
	if err := env.svc.MarkCompleted(context.Background(), "bogus", StepDataConsent); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound from MarkCompleted, got %v", err)
	}
}

func TestAcceptDataConsent_AdvancesToChat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.svc.AcceptDataConsent(ctx, env.token); err != nil {
		t.Fatalf("AcceptDataConsent() error: %v", err)
	}

	step, _ := env.svc.CurrentStep(ctx, env.token)
	if step != StepChat {
		t.Errorf("expected chat, got %s", step)
	}

	consents, err := env.evals.GetConsents(ctx, env.patient.ID)
	if err != nil {
		t.Fatalf("GetConsents() error: %v", err)
	}
	if len(consents) != 1 || !consents[0].Accepted || consents[0].ConsentType != evaluation.ConsentDataProcessing {
		t.Errorf("expected accepted data processing consent, got %+v", consents)
	}

	if env.patient.Status != patient.StatusInProgress {
		t.Errorf("expected status in_progress, got %s", env.patient.Status)
	}

	// Re-accepting is idempotent.
	if err := env.svc.AcceptDataConsent(ctx, env.token); err != nil {
		t.Errorf("expected idempotent re-accept, got %v", err)
	}
}

func TestMarkCompleted_OutOfOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.svc.AcceptDataConsent(ctx, env.token); err != nil {
		t.Fatalf("AcceptDataConsent() error: %v", err)
	}

	err := env.svc.MarkCompleted(ctx, env.token, StepConsent)
	if !IsInvalidTransition(err) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	// Ledger unchanged.
	step, _ := env.svc.CurrentStep(ctx, env.token)
	if step != StepChat {
		t.Errorf("expected current step unchanged at chat, got %s", step)
	}
}

func TestValidate_OrderAndContentGates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Ahead of the frontier: denied.
	dec, err := env.svc.Validate(ctx, env.token, StepChat)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if dec.Allowed {
		t.Error("expected chat denied for fresh patient")
	}
	if dec.Reason == "" {
		t.Error("expected a denial reason")
	}

	if err := env.svc.AcceptDataConsent(ctx, env.token); err != nil {
		t.Fatalf("AcceptDataConsent() error: %v", err)
	}

	// Current and earlier steps: allowed.
	for _, target := range []Step{StepDataConsent, StepChat} {
		dec, _ := env.svc.Validate(ctx, env.token, target)
		if !dec.Allowed {
			t.Errorf("expected %s allowed, got reason %q", target, dec.Reason)
		}
	}

	// Even with chat marked, recommendations stays gated on content.
	env.driveToRecommendationsLess(t)
	dec, _ = env.svc.Validate(ctx, env.token, StepRecommendations)
	if dec.Allowed {
		t.Error("expected recommendations denied before any recommendation exists")
	}
}

// driveToRecommendationsLess marks chat complete directly on the ledger to
// simulate an evaluation whose chat finished without generated content.
func (env *testEnv) driveToRecommendationsLess(t *testing.T) {
	t.Helper()
	ok, err := env.ledger.MarkCompleted(context.Background(), env.patient.ID, StepChat, nil)
	if err != nil || !ok {
		t.Fatalf("ledger mark failed: ok=%v err=%v", ok, err)
	}
}

func TestCompleteChat_GatedOnRecommendations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.svc.AcceptDataConsent(ctx, env.token); err != nil {
		t.Fatalf("AcceptDataConsent() error: %v", err)
	}

	err := env.svc.CompleteChat(ctx, env.token)
	if !IsContentNotReady(err) {
		t.Fatalf("expected ContentNotReadyError, got %v", err)
	}

	env.driveToRecommendations(t)

	if err := env.svc.CompleteChat(ctx, env.token); err != nil {
		t.Fatalf("CompleteChat() error: %v", err)
	}
	step, _ := env.svc.CurrentStep(ctx, env.token)
	if step != StepRecommendations {
		t.Errorf("expected recommendations, got %s", step)
	}
}

func TestConverse_PersistsTurnsAndRecommendations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.svc.AcceptDataConsent(ctx, env.token); err != nil {
		t.Fatalf("AcceptDataConsent() error: %v", err)
	}

	reply, err := env.svc.Converse(ctx, env.token, "hola")
	if err != nil {
		t.Fatalf("Converse() error: %v", err)
	}
	if reply.RecommendationsGenerated {
		t.Fatal("expected a question on the first turn, not recommendations")
	}

	msgs, err := env.evals.ListConversation(ctx, env.patient.ID)
	if err != nil {
		t.Fatalf("ListConversation() error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected patient + assistant message, got %d", len(msgs))
	}
	if msgs[0].Role != evaluation.RolePatient || msgs[1].Role != evaluation.RoleAssistant {
		t.Errorf("unexpected roles: %s, %s", msgs[0].Role, msgs[1].Role)
	}

	env.driveToRecommendations(t)

	recs, err := env.evals.ListRecommendations(ctx, env.patient.ID)
	if err != nil {
		t.Fatalf("ListRecommendations() error: %v", err)
	}
	if len(recs) == 0 {
		t.Fatal("expected generated recommendations persisted")
	}
}

func TestConverse_DeniedBeforeDataConsent(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Converse(context.Background(), env.token, "hola")
	if !IsInvalidTransition(err) {
		t.Fatalf("expected InvalidTransitionError before data consent, got %v", err)
	}
}

// recordingChat captures what each turn hands to the AI backend.
type recordingChat struct {
	histories [][]ai.Message
	userMsgs  []string
}

func (c *recordingChat) Converse(_ context.Context, history []ai.Message, _ ai.PatientContext, userMsg string) (*ai.Reply, error) {
	cp := make([]ai.Message, len(history))
	copy(cp, history)
	c.histories = append(c.histories, cp)
	c.userMsgs = append(c.userMsgs, userMsg)
	return &ai.Reply{Text: "¿Alguna alergia conocida?"}, nil
}

func TestConverse_CurrentMessageNotDuplicatedInHistory(t *testing.T) {
	ctx := context.Background()

	patients := patient.NewService(newMockPatientRepo())
	evals := evaluation.NewService(newMockEvalRepo())
	chat := &recordingChat{}
	notifier := notification.NewService(&notification.MockSMSSender{}, notification.NewTemplateEngine(), zerolog.Nop())
	svc := NewService(newMockLedger(), patients, evals, chat, notifier, zerolog.Nop())

	p := &patient.Patient{DNI: "12345678A", Name: "Ana Torres", Email: "ana@example.com"}
	if err := patients.CreatePatient(ctx, p); err != nil {
		t.Fatalf("CreatePatient() error: %v", err)
	}
	if err := svc.AcceptDataConsent(ctx, p.Token); err != nil {
		t.Fatalf("AcceptDataConsent() error: %v", err)
	}

	if _, err := svc.Converse(ctx, p.Token, "hola"); err != nil {
		t.Fatalf("Converse() error: %v", err)
	}
	if _, err := svc.Converse(ctx, p.Token, "tomo ibuprofeno"); err != nil {
		t.Fatalf("Converse() error: %v", err)
	}

	if len(chat.histories) != 2 {
		t.Fatalf("expected 2 chat calls, got %d", len(chat.histories))
	}
	if len(chat.histories[0]) != 0 {
		t.Errorf("first turn history should be empty, got %d messages", len(chat.histories[0]))
	}
	// The second turn sees the first exchange but never its own message;
	// the chat backend appends the current message itself.
	if len(chat.histories[1]) != 2 {
		t.Fatalf("second turn history should hold the first exchange, got %d messages", len(chat.histories[1]))
	}
	for _, m := range chat.histories[1] {
		if m.Content == "tomo ibuprofeno" {
			t.Error("current patient message must not appear in the history")
		}
	}
	if chat.userMsgs[1] != "tomo ibuprofeno" {
		t.Errorf("expected current message passed separately, got %q", chat.userMsgs[1])
	}
}

func TestFullFlow_CompletionFreezesLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.svc.AcceptDataConsent(ctx, env.token); err != nil {
		t.Fatalf("AcceptDataConsent() error: %v", err)
	}
	env.driveToRecommendations(t)
	if err := env.svc.CompleteChat(ctx, env.token); err != nil {
		t.Fatalf("CompleteChat() error: %v", err)
	}
	if err := env.svc.AcknowledgeRecommendations(ctx, env.token); err != nil {
		t.Fatalf("AcknowledgeRecommendations() error: %v", err)
	}
	if err := env.svc.SignConsent(ctx, env.token, "data:image/png;base64,firma"); err != nil {
		t.Fatalf("SignConsent() error: %v", err)
	}
	if err := env.svc.Finish(ctx, env.token); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}

	step, _ := env.svc.CurrentStep(ctx, env.token)
	if step != StepCompleted {
		t.Errorf("expected completed, got %s", step)
	}
	if env.patient.Status != patient.StatusCompleted {
		t.Errorf("expected status completed, got %s", env.patient.Status)
	}

	// Frozen: every earlier step is denied and nothing can be re-marked.
	for _, target := range []Step{StepDataConsent, StepChat, StepRecommendations, StepConsent} {
		dec, err := env.svc.Validate(ctx, env.token, target)
		if err != nil {
			t.Fatalf("Validate(%s) error: %v", target, err)
		}
		if dec.Allowed {
			t.Errorf("expected %s denied after completion", target)
		}
	}
	if err := env.svc.SignConsent(ctx, env.token, "otra-firma"); !IsInvalidTransition(err) {
		t.Errorf("expected frozen ledger to reject consent re-sign, got %v", err)
	}

	// The intake form is frozen with the rest of the evaluation.
	if frozen, err := env.svc.Frozen(ctx, env.patient.ID); err != nil || !frozen {
		t.Errorf("Frozen() = %v, %v; want true", frozen, err)
	}
	weight := 80.0
	saveErr := env.evals.SaveIntake(ctx, &evaluation.IntakeResponse{PatientID: env.patient.ID, WeightKg: &weight})
	if !errors.Is(saveErr, evaluation.ErrEvaluationFrozen) {
		t.Errorf("expected intake save rejected after completion, got %v", saveErr)
	}

	// The signed consent is stored with its signature.
	consents, _ := env.evals.GetConsents(ctx, env.patient.ID)
	var signed *evaluation.ConsentRecord
	for _, c := range consents {
		if c.ConsentType == evaluation.ConsentPreAnesthetic {
			signed = c
		}
	}
	if signed == nil || !signed.Accepted || signed.SignatureData == nil {
		t.Fatalf("expected signed pre-anesthetic consent, got %+v", signed)
	}
}

func TestSignConsent_RequiresSignature(t *testing.T) {
	env := newTestEnv(t)
	if err := env.svc.SignConsent(context.Background(), env.token, "  "); err == nil {
		t.Error("expected error for empty signature")
	}
}

func TestProjectStatus_NeverDowngradesValidated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.patient.Status = patient.StatusValidated
	if err := env.svc.AcceptDataConsent(ctx, env.token); err != nil {
		t.Fatalf("AcceptDataConsent() error: %v", err)
	}
	if env.patient.Status != patient.StatusValidated {
		t.Errorf("expected validated preserved, got %s", env.patient.Status)
	}
}

func TestStepOrderHelpers(t *testing.T) {
	if _, err := ParseStep("bogus"); err == nil {
		t.Error("expected error for unknown step")
	}
	step, err := ParseStep("chat")
	if err != nil || step != StepChat {
		t.Errorf("ParseStep(chat) = %v, %v", step, err)
	}

	if prev, ok := StepChat.Prev(); !ok || prev != StepDataConsent {
		t.Errorf("Prev(chat) = %v, %v", prev, ok)
	}
	if _, ok := StepDataConsent.Prev(); ok {
		t.Error("expected no predecessor for data_consent")
	}
	if next, ok := StepConsent.Next(); !ok || next != StepCompleted {
		t.Errorf("Next(consent) = %v, %v", next, ok)
	}
	if _, ok := StepCompleted.Next(); ok {
		t.Error("expected no successor for completed")
	}
}
