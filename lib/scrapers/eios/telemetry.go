package eios

import (
	"eios-backend/lib/restyutil"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/eios")
var restyInstrumentOutput restyutil.InstrumentOutput

func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}
