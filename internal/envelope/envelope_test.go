package envelope

import (
	"errors"
	"testing"
	"time"

	"veridict/internal/model"
)

func validTask() model.Task {
	return model.Task{
		ID:    "t-1",
		Round: 1,
		Slot:  2,
		Text:  "verify the claim",
	}
}

func validSubmission() model.Submission {
	return model.Submission{
		TaskID:      "t-1",
		Slot:        2,
		Round:       1,
		ShortAnswer: "supported",
		Citations: []model.Citation{{
			Title:       "Source",
			Publisher:   "Publisher",
			URL:         "https://example.com/a",
			RetrievedAt: time.Now(),
		}},
	}
}

func TestValidate_AllKinds(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{
			name: "task assignment manager to worker",
			env: Envelope{
				Sender:   RoleManager,
				Receiver: WorkerRole(2),
				Message: Payload{
					Kind:           KindTaskAssignment,
					TaskAssignment: &TaskAssignment{Task: validTask()},
				},
			},
		},
		{
			name: "submission worker to supervisor",
			env: Envelope{
				Sender:   WorkerRole(2),
				Receiver: RoleSupervisor,
				Message: Payload{
					Kind:             KindWorkerSubmission,
					WorkerSubmission: &WorkerSubmission{Submission: validSubmission()},
				},
			},
		},
		{
			name: "revision supervisor to worker",
			env: Envelope{
				Sender:   RoleSupervisor,
				Receiver: WorkerRole(2),
				Message: Payload{
					Kind: KindReviewRevision,
					ReviewRevision: &ReviewRevision{Verdict: model.ReviewVerdict{
						TaskID:   "t-1",
						Decision: model.ReviewRevise,
						Issues:   []string{"only 1 source"},
					}},
				},
			},
		},
		{
			name: "approval supervisor to manager",
			env: Envelope{
				Sender:   RoleSupervisor,
				Receiver: RoleManager,
				Message: Payload{
					Kind: KindReviewApproval,
					ReviewApproval: &ReviewApproval{Verdict: model.ReviewVerdict{
						TaskID:   "t-1",
						Decision: model.ReviewApprove,
					}},
				},
			},
		},
		{
			name: "final report manager to boss",
			env: Envelope{
				Sender:   RoleManager,
				Receiver: RoleBoss,
				Message: Payload{
					Kind: KindFinalReport,
					FinalReport: &FinalReport{Report: model.Report{
						SessionID: "s-1",
						Verdict:   model.VerdictTrue,
					}},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(&tt.env, 5); err != nil {
				t.Errorf("expected valid envelope, got %v", err)
			}
		})
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Envelope)
		wantField string
	}{
		{
			name:      "missing sender",
			mutate:    func(e *Envelope) { e.Sender = "" },
			wantField: "sender",
		},
		{
			name:      "unknown role",
			mutate:    func(e *Envelope) { e.Receiver = "intern_1" },
			wantField: "receiver",
		},
		{
			name:      "worker slot out of range",
			mutate:    func(e *Envelope) { e.Receiver = WorkerRole(9) },
			wantField: "receiver",
		},
		{
			name:      "missing kind",
			mutate:    func(e *Envelope) { e.Message.Kind = "" },
			wantField: "message.kind",
		},
		{
			name:      "unknown kind",
			mutate:    func(e *Envelope) { e.Message.Kind = "gossip" },
			wantField: "message.kind",
		},
		{
			name:      "missing payload variant",
			mutate:    func(e *Envelope) { e.Message.TaskAssignment = nil },
			wantField: "message.task_assignment",
		},
		{
			name: "variant does not match kind",
			mutate: func(e *Envelope) {
				e.Message.TaskAssignment = nil
				e.Message.FinalReport = &FinalReport{Report: model.Report{SessionID: "s", Verdict: model.VerdictTrue}}
			},
			wantField: "message.final_report",
		},
		{
			name: "two variants set",
			mutate: func(e *Envelope) {
				e.Message.FinalReport = &FinalReport{Report: model.Report{SessionID: "s", Verdict: model.VerdictTrue}}
			},
			wantField: "message",
		},
		{
			name: "wrong sender for kind",
			mutate: func(e *Envelope) {
				e.Sender = RoleBoss
			},
			wantField: "sender",
		},
		{
			name: "task missing id",
			mutate: func(e *Envelope) {
				task := validTask()
				task.ID = ""
				e.Message.TaskAssignment = &TaskAssignment{Task: task}
			},
			wantField: "task.id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Envelope{
				Sender:   RoleManager,
				Receiver: WorkerRole(1),
				Message: Payload{
					Kind:           KindTaskAssignment,
					TaskAssignment: &TaskAssignment{Task: validTask()},
				},
			}
			tt.mutate(&env)

			err := Validate(&env, 5)
			if err == nil {
				t.Fatal("expected SchemaError, got nil")
			}
			var schemaErr *model.SchemaError
			if !errors.As(err, &schemaErr) {
				t.Fatalf("expected SchemaError, got %T: %v", err, err)
			}
			if schemaErr.Field != tt.wantField {
				t.Errorf("expected field %q, got %q", tt.wantField, schemaErr.Field)
			}
		})
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	env := &Envelope{
		Sender:   WorkerRole(3),
		Receiver: RoleSupervisor,
		Message: Payload{
			Kind:             KindWorkerSubmission,
			WorkerSubmission: &WorkerSubmission{Submission: validSubmission()},
		},
	}

	data, err := Marshal(env, 5)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := Unmarshal(data, 5)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Sender != WorkerRole(3) || decoded.Receiver != RoleSupervisor {
		t.Errorf("roles lost in round trip: %s -> %s", decoded.Sender, decoded.Receiver)
	}
	if decoded.Message.WorkerSubmission == nil || decoded.Message.WorkerSubmission.Submission.TaskID != "t-1" {
		t.Error("submission payload lost in round trip")
	}

	if _, err := Unmarshal([]byte("{not json"), 5); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestWorkerRole(t *testing.T) {
	if got := WorkerRole(4); got != "worker_4" {
		t.Errorf("expected worker_4, got %s", got)
	}
	if slot, ok := Role("worker_12").IsWorker(); !ok || slot != 12 {
		t.Errorf("expected slot 12, got %d (%v)", slot, ok)
	}
	for _, bad := range []Role{"worker_", "worker_0", "worker_-1", "workerx", "boss"} {
		if _, ok := bad.IsWorker(); ok {
			t.Errorf("%q should not parse as worker", bad)
		}
	}
}
