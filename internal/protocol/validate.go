package protocol

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/nfrund/livepresence/internal/domain"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator instance. It is also installed as the
// echo validator so HTTP and websocket input follow the same rules.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags on v and wraps failures in ErrMalformedPayload.
func Validate(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", domain.ErrMalformedPayload, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
}
