package dll

import (
	"github.com/zboralski/mipsld/internal/linkerr"
	"github.com/zboralski/mipsld/internal/log"
)

func setFormat() error { return linkerr.Set(linkerr.DLLFormat) }
func setNull() error   { return linkerr.Set(linkerr.DLLNull) }
func setSymbol() error { return linkerr.Set(linkerr.DLLSymbol) }
func setMapSym() error { return linkerr.Set(linkerr.MapSymbol) }
func setNoFile() error { return linkerr.Set(linkerr.NoFileAPI) }

// currentLogger returns the global logger if one was initialised, or nil.
// Every call site in this package already guards on nil, matching the
// no-op-until-Init behaviour the rest of the module relies on.
func currentLogger() *log.Logger { return log.L }
