package waiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/crdpack/crdpack/pkg/crd"
	"github.com/crdpack/crdpack/pkg/pack"
)

func testCRD(name string, skipWait bool) pack.CRD {
	return pack.CRD{Schema: &crd.Schema{Name: name}, SkipWait: skipWait}
}

func established() []apiextensionsv1.CustomResourceDefinitionCondition {
	return []apiextensionsv1.CustomResourceDefinitionCondition{
		{Type: apiextensionsv1.NamesAccepted, Status: apiextensionsv1.ConditionTrue},
		{Type: apiextensionsv1.Established, Status: apiextensionsv1.ConditionTrue},
	}
}

// stubReader serves a fixed sequence of condition sets per CRD name,
// sticking on the last entry.
type stubReader struct {
	mu       sync.Mutex
	sequence map[string][][]apiextensionsv1.CustomResourceDefinitionCondition
	calls    map[string]int
}

func (r *stubReader) Status(_ context.Context, name string) ([]apiextensionsv1.CustomResourceDefinitionCondition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.calls == nil {
		r.calls = map[string]int{}
	}
	seq, ok := r.sequence[name]
	if !ok {
		return nil, apierrors.NewNotFound(
			schema.GroupResource{Group: "apiextensions.k8s.io", Resource: "customresourcedefinitions"}, name)
	}
	i := r.calls[name]
	r.calls[name]++
	if i >= len(seq) {
		i = len(seq) - 1
	}
	return seq[i], nil
}

func TestWaitEstablished(t *testing.T) {
	reader := &stubReader{
		sequence: map[string][][]apiextensionsv1.CustomResourceDefinitionCondition{
			"widgets.demo.crdpack.dev": {
				nil,
				established(),
			},
		},
	}
	w := &Waiter{Reader: reader, Interval: time.Millisecond, Timeout: time.Second}

	result, err := w.Wait(context.Background(), testCRD("widgets.demo.crdpack.dev", false))
	if err != nil {
		t.Fatal(err)
	}
	if result.Phase != Established {
		t.Errorf("expected Established, got %s", result.Phase)
	}
}

func TestWaitSkip(t *testing.T) {
	w := &Waiter{Reader: &stubReader{}, Interval: time.Millisecond, Timeout: time.Second}

	result, err := w.Wait(context.Background(), testCRD("widgets.demo.crdpack.dev", true))
	if err != nil {
		t.Fatal(err)
	}
	if result.Phase != Established {
		t.Errorf("expected skip-wait to report Established, got %s", result.Phase)
	}
	if len((w.Reader.(*stubReader)).calls) != 0 {
		t.Error("expected no status reads for a skipped CRD")
	}
}

func TestWaitTimeout(t *testing.T) {
	reader := &stubReader{
		sequence: map[string][][]apiextensionsv1.CustomResourceDefinitionCondition{
			"slows.demo.crdpack.dev": {nil},
		},
	}
	w := &Waiter{Reader: reader, Interval: 2 * time.Millisecond, Timeout: 20 * time.Millisecond}

	result, err := w.Wait(context.Background(), testCRD("slows.demo.crdpack.dev", false))
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("expected a not-ready error, got %v", err)
	}
	if notReady.Name != "slows.demo.crdpack.dev" || notReady.Timeout != 20*time.Millisecond {
		t.Errorf("unexpected error details %+v", notReady)
	}
	if result.Phase != TimedOut {
		t.Errorf("expected TimedOut, got %s", result.Phase)
	}
}

func TestWaitRejected(t *testing.T) {
	reader := &stubReader{
		sequence: map[string][][]apiextensionsv1.CustomResourceDefinitionCondition{
			"bads.demo.crdpack.dev": {
				{
					{
						Type:    apiextensionsv1.NamesAccepted,
						Status:  apiextensionsv1.ConditionFalse,
						Message: "plural name conflicts with bads.other.io",
					},
				},
			},
		},
	}
	w := &Waiter{Reader: reader, Interval: time.Millisecond, Timeout: time.Second}

	result, err := w.Wait(context.Background(), testCRD("bads.demo.crdpack.dev", false))
	if err == nil {
		t.Fatal("expected a rejection error")
	}
	if result.Phase != Failed {
		t.Errorf("expected Failed, got %s", result.Phase)
	}
}

func TestWaitAll(t *testing.T) {
	reader := &stubReader{
		sequence: map[string][][]apiextensionsv1.CustomResourceDefinitionCondition{
			"widgets.demo.crdpack.dev": {established()},
			"gadgets.demo.crdpack.dev": {nil, established()},
		},
	}
	w := &Waiter{Reader: reader, Interval: time.Millisecond, Timeout: time.Second}

	results, err := w.WaitAll(context.Background(), []pack.CRD{
		testCRD("widgets.demo.crdpack.dev", false),
		testCRD("gadgets.demo.crdpack.dev", false),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Name != "gadgets.demo.crdpack.dev" {
		t.Errorf("expected results sorted by name, got %s first", results[0].Name)
	}
	for _, r := range results {
		if r.Phase != Established {
			t.Errorf("CRD %s: expected Established, got %s", r.Name, r.Phase)
		}
	}
}

func TestWaitAllCancelsOnFailure(t *testing.T) {
	reader := &stubReader{
		sequence: map[string][][]apiextensionsv1.CustomResourceDefinitionCondition{
			"bads.demo.crdpack.dev": {
				{
					{Type: apiextensionsv1.NamesAccepted, Status: apiextensionsv1.ConditionFalse},
				},
			},
			"slows.demo.crdpack.dev": {nil},
		},
	}
	w := &Waiter{Reader: reader, Interval: time.Millisecond, Timeout: 30 * time.Second}

	start := time.Now()
	_, err := w.WaitAll(context.Background(), []pack.CRD{
		testCRD("bads.demo.crdpack.dev", false),
		testCRD("slows.demo.crdpack.dev", false),
	})
	if err == nil {
		t.Fatal("expected the rejection to surface")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("expected cancellation to cut the sibling wait short, took %s", elapsed)
	}
}
