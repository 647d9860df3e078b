package stt

import "github.com/dealerline/voiceagent/pkg/types"

// Transcript and WordDetail are aliases of the shared cross-package types so
// every STT Provider implementation and its callers agree on one underlying
// type.
type Transcript = types.Transcript
type WordDetail = types.WordDetail
