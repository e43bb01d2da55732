package main

import "errors"

// Run errors
var (
	ErrLoadConfig     = errors.New("load config")
	ErrOpenEventLog   = errors.New("open event log")
	ErrOpenSpool      = errors.New("open telemetry spool")
	ErrLoadBlueprints = errors.New("load decoy blueprints")
	ErrMetricsListen  = errors.New("start metrics listener")
	ErrStartSensor    = errors.New("start sensor")
	ErrCloseSensor    = errors.New("close sensor")
)

// Attack errors
var (
	ErrDialSensor = errors.New("dial sensor")
	ErrSetRawMode = errors.New("setting raw mode")
)

// Report errors
var (
	ErrReadEventLog = errors.New("read event log")
	ErrWriteReport  = errors.New("write report")
)

// Control errors
var (
	ErrControlPlane = errors.New("control plane request")
)
