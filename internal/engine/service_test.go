package engine_test

import (
	"errors"
	"strings"
	"testing"

	"stepline/internal/domain"
	"stepline/internal/engine"
)

func TestStartItem(t *testing.T) {
	env := newTestEnv(t)
	ids := env.importTree(t, node("root", "Root",
		leaf("a", "Alpha"), leaf("b", "Beta"), leaf("c", "Gamma"), leaf("d", "Delta"),
		node("e", "Epsilon", leaf("e1", "Epsilon one"))))
	for _, k := range []string{"a", "b", "c", "d"} {
		if _, err := env.Engine.AddEdge(env.Ctx, ids["e"], ids[k], domain.EdgeBlocks, "admin"); err != nil {
			t.Fatal(err)
		}
	}

	res, err := env.Engine.StartItem(env.Ctx, ids["a"], "x")
	if err != nil || !res.OK || res.OldStatus != domain.StatusOpen || res.NewStatus != domain.StatusInProgress {
		t.Fatalf("start a: %+v %v", res, err)
	}
	_, err = env.Engine.StartItem(env.Ctx, ids["a"], "x")
	wantKind(t, err, domain.KindInvalidTransition)

	_, err = env.Engine.StartItem(env.Ctx, ids["e1"], "x")
	wantKind(t, err, domain.KindBlocked)
	if !strings.Contains(err.Error(), `"Alpha"`) || !strings.Contains(err.Error(), "and 1 more") {
		t.Fatalf("blocked message should list three titles and a count: %v", err)
	}
	var derr *domain.Error
	if !errors.As(err, &derr) || len(derr.Details["blocked_by"].([]string)) != 4 {
		t.Fatalf("details should carry every blocker: %+v", derr)
	}

	env.move(t, ids["a"], "x", domain.StatusClosed)
	_, err = env.Engine.StartItem(env.Ctx, ids["a"], "x")
	wantKind(t, err, domain.KindInvalidTransition)
	if !strings.Contains(err.Error(), "reopen") {
		t.Fatalf("closed refusal should say to reopen: %v", err)
	}

	// blocked status can be resumed once nothing blocks it
	env.move(t, ids["b"], "x", domain.StatusBlocked)
	if _, err := env.Engine.StartItem(env.Ctx, ids["b"], "x"); err != nil {
		t.Fatalf("resume b: %v", err)
	}
}

func TestSubmitEvidenceGate(t *testing.T) {
	env := newTestEnv(t)
	essay := leaf("essay", "Essay")
	essay.Criteria = &domain.Criteria{Mode: domain.CriteriaEvidence, MinLength: 10, MustInclude: []string{"thesis"}}
	quick := leaf("quick", "Quick")
	quick.Criteria = &domain.Criteria{Mode: domain.CriteriaEvidence}
	ids := env.importTree(t, node("root", "Root", essay, quick))

	env.move(t, ids["essay"], "x", domain.StatusInProgress)
	_, err := env.Engine.Transition(env.Ctx, ids["essay"], "x", domain.StatusClosed, "")
	wantKind(t, err, domain.KindClosureRefused)

	res, err := env.Engine.SubmitEvidence(env.Ctx, engine.SubmitOptions{ItemID: ids["essay"], ActorID: "x", Content: "short"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ValidationPassed || res.AttemptNumber != 1 || res.CanClose || res.Message == "" {
		t.Fatalf("first attempt should fail: %+v", res)
	}
	res, err = env.Engine.SubmitEvidence(env.Ctx, engine.SubmitOptions{ItemID: ids["essay"], ActorID: "x", Content: "My thesis is that graphs are fun."})
	if err != nil {
		t.Fatal(err)
	}
	if !res.ValidationPassed || res.AttemptNumber != 2 || !res.CanClose || res.Closed != nil {
		t.Fatalf("second attempt should pass: %+v", res)
	}
	// evidence is per actor
	decision, err := env.Engine.CanClose(env.Ctx, ids["essay"], "y")
	if err != nil || decision.Allowed || !decision.MissingEvidence {
		t.Fatalf("actor y has no evidence: %+v %v", decision, err)
	}
	env.move(t, ids["essay"], "x", domain.StatusClosed)

	env.move(t, ids["quick"], "x", domain.StatusInProgress)
	res, err = env.Engine.SubmitEvidence(env.Ctx, engine.SubmitOptions{ItemID: ids["quick"], ActorID: "x", Content: "done", CloseOnPass: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Closed == nil || res.Closed.To != domain.StatusClosed {
		t.Fatalf("close on pass should close: %+v", res)
	}
	if got := env.status(t, ids["root"], "x"); got != domain.StatusOpen {
		t.Fatalf("never-started root must not auto-close, got %s", got)
	}
	subs, err := env.Engine.Repo.ListSubmissions(env.Ctx, nil, ids["essay"], "x")
	if err != nil || len(subs) != 2 || subs[0].Passed || !subs[1].Passed || subs[0].ContentKind != "text" {
		t.Fatalf("submissions: %+v %v", subs, err)
	}
}

func TestSubmitEvidenceRequiresClosedChildren(t *testing.T) {
	env := newTestEnv(t)
	parent := node("p", "Project", leaf("c", "Step"))
	parent.Criteria = &domain.Criteria{Mode: domain.CriteriaEvidence}
	ids := env.importTree(t, node("root", "Root", parent))
	res, err := env.Engine.SubmitEvidence(env.Ctx, engine.SubmitOptions{ItemID: ids["p"], ActorID: "x", Content: "report"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.ValidationPassed || res.CanClose {
		t.Fatalf("open child must keep the gate shut: %+v", res)
	}
	_, err = env.Engine.SubmitEvidence(env.Ctx, engine.SubmitOptions{ItemID: "missing", ActorID: "x", Content: "report"})
	wantKind(t, err, domain.KindNotFound)
}

func TestSubmitEvidenceCloseOnPassBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	task := leaf("t", "Task")
	task.Criteria = &domain.Criteria{Mode: domain.CriteriaEvidence}
	ids := env.importTree(t, node("root", "Root", task))

	res, err := env.Engine.SubmitEvidence(env.Ctx, engine.SubmitOptions{ItemID: ids["t"], ActorID: "x", Content: "notes", CloseOnPass: true})
	if err != nil {
		t.Fatalf("submit on an unstarted item: %v", err)
	}
	if res.SubmissionID == "" || !res.ValidationPassed || !res.CanClose {
		t.Fatalf("submission should be stored and pass: %+v", res)
	}
	if res.Closed != nil || !strings.Contains(res.CloseSkipped, "OPEN") {
		t.Fatalf("close should be skipped with a reason: %+v", res)
	}
	if got := env.status(t, ids["t"], "x"); got != domain.StatusOpen {
		t.Fatalf("status = %s, want OPEN", got)
	}

	// once started, the stored passing submission is enough
	env.move(t, ids["t"], "x", domain.StatusInProgress, domain.StatusClosed)
	subs, err := env.Engine.Submissions(env.Ctx, ids["t"], "x")
	if err != nil || len(subs) != 1 || subs[0].ID != res.SubmissionID {
		t.Fatalf("submissions: %+v %v", subs, err)
	}
}
