package engine

import (
	"testing"
	"time"
)

func TestTaskStatus_Lifecycle(t *testing.T) {
	task := NewTaskStatus(KindApp, StepActivate, "app-1")
	if task.TaskID == "" {
		t.Fatal("TaskID should be assigned")
	}
	if task.State != TaskNotStarted || task.PercentComplete != PercentUnknown {
		t.Fatalf("unexpected initial status: %+v", task)
	}

	task.Start()
	if task.State != TaskStarted || task.StartTime.IsZero() {
		t.Fatalf("Start() did not start the task: %+v", task)
	}
	if task.EndTime != nil {
		t.Fatal("EndTime must stay unset until terminal")
	}

	task.Succeed("App demo has been activated.")
	if !task.Succeeded() || task.EndTime == nil || task.PercentComplete != 100 {
		t.Fatalf("Succeed() did not finish the task: %+v", task)
	}
}

func TestTaskStatus_TerminalIsImmutable(t *testing.T) {
	task := FailedTask(KindRoute, StepDelete, "r-1", "Route", "boom")
	end := *task.EndTime

	task.Succeed("changed")
	task.Start()
	task.SetProgress(50)
	task.AddSubtask(NewTaskStatus(KindApp, StepDelete, "a"))
	task.Fail("other")

	if task.State != TaskFinishedFailed || task.ErrorMessage != "boom" {
		t.Errorf("terminal status mutated: %+v", task)
	}
	if !task.EndTime.Equal(end) || len(task.Subtasks) != 0 {
		t.Errorf("terminal status mutated: %+v", task)
	}
	if task.Merge(SucceededTask(KindRoute, StepDelete, "r-1", "ok")) {
		t.Error("Merge into a terminal status should report false")
	}
}

func TestTaskStatus_SetProgressClamps(t *testing.T) {
	task := StartedTask(KindDatabase, StepActivate, "db", "Database")
	task.SetProgress(150)
	if task.PercentComplete != 100 {
		t.Errorf("PercentComplete = %d, want 100", task.PercentComplete)
	}
	task.SetProgress(-5)
	if task.PercentComplete != PercentUnknown {
		t.Errorf("PercentComplete = %d, want %d", task.PercentComplete, PercentUnknown)
	}
}

func TestTaskStatus_Merge(t *testing.T) {
	tracked := StartedTask(KindDatabase, StepActivate, "db", "Database activating")
	tracked.SuggestedTimeoutSeconds = 60

	fresh := tracked.Clone()
	fresh.SetProgress(40)
	fresh.Subtitle = "corr-1"
	if !tracked.Merge(fresh) {
		t.Fatal("Merge() = false")
	}
	if tracked.PercentComplete != 40 || tracked.Subtitle != "corr-1" {
		t.Errorf("Merge did not copy progress: %+v", tracked)
	}

	done := tracked.Clone()
	done.State = TaskFinishedOK
	done.Title = "Database db has been activated."
	tracked.Merge(done)
	if !tracked.Succeeded() || tracked.EndTime == nil {
		t.Errorf("Merge of terminal state should set EndTime: %+v", tracked)
	}
	if tracked.Title != "Database db has been activated." {
		t.Errorf("Title = %q", tracked.Title)
	}
}

func TestTaskStatus_CloneIsDeep(t *testing.T) {
	parent := StartedTask(KindTechnicalDeployment, StepActivate, "td", "td")
	parent.AddSubtask(StartedTask(KindApp, StepActivate, "app", "app"))

	c := parent.Clone()
	c.Subtasks[0].Fail("boom")
	c.Title = "changed"

	if parent.Subtasks[0].IsTerminal() || parent.Title != "td" {
		t.Error("Clone shares state with the original")
	}
	var nilTask *TaskStatus
	if nilTask.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestTaskStatus_Deadline(t *testing.T) {
	task := StartedTask(KindDatabase, StepActivate, "db", "")
	if _, ok := task.Deadline(); ok {
		t.Error("Deadline without a timeout should not be set")
	}
	task.SuggestedTimeoutSeconds = 30
	deadline, ok := task.Deadline()
	if !ok || deadline.Sub(task.StartTime) != 30*time.Second {
		t.Errorf("Deadline() = %v, %v", deadline, ok)
	}
}
