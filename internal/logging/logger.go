package logging

import (
	"log"
	"os"
)

var (
	API      = log.New(os.Stdout, "[api] ", log.LstdFlags)
	Payment  = log.New(os.Stdout, "[payment] ", log.LstdFlags)
	Storage  = log.New(os.Stdout, "[storage] ", log.LstdFlags)
	Sweep    = log.New(os.Stdout, "[sweep] ", log.LstdFlags)
	Internal = log.New(os.Stdout, "[internal] ", log.LstdFlags)
)
