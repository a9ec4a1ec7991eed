package server

import "controlsync/controls"

// UpdateProcessor is notified of every update a client sends. info is a
// private copy of the control surface taken after the update was applied.
// Calls are serialised: OnUpdateReceived is never run concurrently with
// itself for one server.
type UpdateProcessor interface {
	OnUpdateReceived(msg controls.UpdateMsg, info *ControlInfo)
}

// UpdateProcessorFunc adapts a function to UpdateProcessor.
type UpdateProcessorFunc func(msg controls.UpdateMsg, info *ControlInfo)

func (f UpdateProcessorFunc) OnUpdateReceived(msg controls.UpdateMsg, info *ControlInfo) {
	f(msg, info)
}

type multiProcessor []UpdateProcessor

func (m multiProcessor) OnUpdateReceived(msg controls.UpdateMsg, info *ControlInfo) {
	for _, p := range m {
		p.OnUpdateReceived(msg, info)
	}
}

// Processors returns an UpdateProcessor calling each non-nil p in order.
func Processors(ps ...UpdateProcessor) UpdateProcessor {
	var m multiProcessor
	for _, p := range ps {
		if p != nil {
			m = append(m, p)
		}
	}
	return m
}
