package entity

import (
	"strconv"

	"github.com/google/uuid"
)

// Remote resources are addressed by the integer ids the analysis service assigns.
type (
	ProjectID     int64
	VideoID       int64
	FrameID       int64
	StageConfigID int64
	OCRResultID   int64
)

func (id ProjectID) String() string     { return strconv.FormatInt(int64(id), 10) }
func (id VideoID) String() string       { return strconv.FormatInt(int64(id), 10) }
func (id FrameID) String() string       { return strconv.FormatInt(int64(id), 10) }
func (id StageConfigID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id OCRResultID) String() string   { return strconv.FormatInt(int64(id), 10) }

func (id ProjectID) Valid() bool { return id > 0 }
func (id VideoID) Valid() bool   { return id > 0 }
func (id FrameID) Valid() bool   { return id > 0 }

// RunID identifies one local OCR run. It never leaves this process except in
// run records and status events.
type RunID = uuid.UUID

func NewRunID() RunID { return uuid.New() }
