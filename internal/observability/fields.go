package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"example.com/user-provisioner/internal/model"
)

func Company(v string) zap.Field { return zap.String("company", v) }

func Email(v string) zap.Field { return zap.String("email", v) }

func Provider(v model.Provider) zap.Field { return zap.String("provider", string(v)) }

func RunID(v string) zap.Field { return zap.String("run_id", v) }

func Mode(v model.Mode) zap.Field { return zap.String("mode", string(v)) }

func Action(v model.Action) zap.Field { return zap.String("action", string(v)) }

// Counts flattens a run tally into log fields.
func Counts(c model.Counts) zap.Field {
	return zap.Object("counts", countsMarshaler(c))
}

type countsMarshaler model.Counts

func (c countsMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("total", c.Total)
	enc.AddInt("would_process", c.WouldProcess)
	enc.AddInt("created", c.Created)
	enc.AddInt("skipped", c.Skipped)
	enc.AddInt("failed", c.Failed)
	return nil
}
