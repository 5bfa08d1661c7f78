package pagecycle

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/vango-dev/pagecycle/pkg/cycle"
	"github.com/vango-dev/pagecycle/pkg/page"
	"github.com/vango-dev/pagecycle/pkg/target"
	"github.com/vango-dev/pagecycle/pkg/version"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{page.ErrPageExpired, http.StatusGone},
		{&cycle.StepError{Step: cycle.ResolveTarget, Err: version.ErrVersionUnavailable}, http.StatusGone},
		{fmt.Errorf("%w: admin", cycle.ErrAccessDenied), http.StatusForbidden},
		{target.ErrComponentDisabled, http.StatusForbidden},
		{ErrBadRequest, http.StatusBadRequest},
		{target.ErrListenerNotFound, http.StatusNotFound},
		{page.ErrUnknownType, http.StatusNotFound},
		{&cycle.PanicError{Value: "boom"}, http.StatusInternalServerError},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestResponderHidesDetails(t *testing.T) {
	fault := errors.New("db password is hunter2")

	tgt, err := (&Responder{}).RespondTo(nil, fault)
	if err != nil {
		t.Fatal(err)
	}
	ep := tgt.(*ErrorPage)
	if ep.Status != http.StatusInternalServerError || ep.Message != "" {
		t.Errorf("error page = %+v", ep)
	}

	tgt, _ = (&Responder{Detailed: true}).RespondTo(nil, fault)
	if tgt.(*ErrorPage).Message != fault.Error() {
		t.Errorf("detailed error page = %+v", tgt)
	}
}
