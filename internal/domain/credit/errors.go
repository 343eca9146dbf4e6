package credit

import "github.com/okian/fluentops/internal/domain/model"

// ErrInsufficientCredits is returned when the user has no credit to spend.
var ErrInsufficientCredits = model.ErrInsufficientCredits
