package scoped

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskErrorMessage(t *testing.T) {
	te := &TaskError{Task: TaskInfo{Name: "worker-1"}, Err: errors.New("something went wrong")}
	assert.Equal(t, `task "worker-1" failed: something went wrong`, te.Error())

	leak := &TaskError{Task: TaskInfo{Name: "leaky"}, Err: violation(reasonTaskLeaked)}
	assert.Equal(t, `task "leaky" failed: scoped: structure violation: `+reasonTaskLeaked, leak.Error())
}

func TestTaskErrorInspection(t *testing.T) {
	root := errors.New("root cause")
	info := TaskInfo{Name: "target"}
	te := &TaskError{Task: info, Err: root}
	sveTask := &TaskError{Task: TaskInfo{Name: "leaky"}, Err: errors.Join(root, violation(reasonTaskLeaked))}

	tests := []struct {
		name      string
		err       error
		isTask    bool
		info      TaskInfo
		cause     error
		violation bool
	}{
		{name: "nil", err: nil},
		{name: "plain", err: root, cause: root},
		{name: "task error", err: te, isTask: true, info: info, cause: root},
		{name: "wrapped", err: fmt.Errorf("wrapped: %w", te), isTask: true, info: info, cause: root},
		{name: "joined", err: errors.Join(errors.New("other"), te), isTask: true, info: info, cause: root},
		{name: "bare violation", err: violation(reasonLeaked), cause: violation(reasonLeaked), violation: true},
		{name: "task with violation", err: sveTask, isTask: true, info: sveTask.Task, cause: sveTask.Err, violation: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.isTask, IsTaskError(tt.err))
			got, ok := TaskOf(tt.err)
			assert.Equal(t, tt.isTask, ok)
			assert.Equal(t, tt.info, got)
			if tt.cause == nil {
				assert.NoError(t, CauseOf(tt.err))
			} else {
				assert.Equal(t, tt.cause.Error(), CauseOf(tt.err).Error())
			}
			assert.Equal(t, tt.violation, errors.Is(tt.err, ErrStructureViolation))
		})
	}
}

func TestAllTaskErrors(t *testing.T) {
	te1 := &TaskError{Task: TaskInfo{Name: "t1"}, Err: errors.New("e1")}
	te2 := &TaskError{Task: TaskInfo{Name: "t2"}, Err: violation(reasonTaskLeaked)}
	nested := &TaskError{Task: TaskInfo{Name: "outer"}, Err: te1}

	tests := []struct {
		name string
		err  error
		want []*TaskError
	}{
		{name: "nil", err: nil, want: nil},
		{name: "plain", err: errors.New("standard"), want: nil},
		{name: "single", err: te1, want: []*TaskError{te1}},
		{name: "mixed join", err: errors.Join(errors.New("x"), te1, violation(reasonLeaked), te2), want: []*TaskError{te1, te2}},
		{name: "nested joins", err: errors.Join(errors.Join(te1), te2), want: []*TaskError{te1, te2}},
		{name: "stops at outer task", err: nested, want: []*TaskError{nested}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AllTaskErrors(tt.err))
		})
	}
}

func TestCollectAttributesViolations(t *testing.T) {
	failed := errors.New("failed")

	err := Run(context.Background(), func(sp Spawner) {
		sp.Go("leaky", func(ctx context.Context) error {
			New(ctx)
			return nil
		})
		sp.Go("failing", func(ctx context.Context) error { return failed })
		sp.Go("fine", func(ctx context.Context) error { return nil })
	}, WithPolicy(Collect))

	all := AllTaskErrors(err)
	require.Len(t, all, 2)
	byName := map[string]*TaskError{}
	for _, te := range all {
		byName[te.Task.Name] = te
	}
	require.Contains(t, byName, "leaky")
	require.Contains(t, byName, "failing")

	var sve *StructureViolationError
	require.ErrorAs(t, byName["leaky"], &sve)
	assert.Equal(t, reasonTaskLeaked, sve.Reason)
	assert.ErrorIs(t, byName["failing"], failed)
	assert.NotErrorIs(t, byName["failing"], ErrStructureViolation)
}

func TestSentinelMatching(t *testing.T) {
	ue := &UnboundError{Key: "scoped.Key@0000beef"}
	assert.ErrorIs(t, ue, ErrUnbound)
	assert.NotErrorIs(t, ue, ErrStructureViolation)

	sve := violation(reasonLeaked)
	assert.ErrorIs(t, sve, ErrStructureViolation)
	assert.NotErrorIs(t, sve, ErrUnbound)
	assert.Equal(t, "scoped: structure violation: "+reasonLeaked, sve.Error())
}
