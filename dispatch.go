package botschafter

// dispatchLoop is the single consumer of the payload queue. Payload k+1 is
// not touched until payload k's handler and observers returned, so dispatch
// order is exactly decode order and never reentrant.
func (s *Session) dispatchLoop() {
	defer close(s.dispatchDone)

	for {
		payload, ok := s.queue.Pop()
		if !ok {
			return
		}
		s.dispatchOne(payload)
	}
}

func (s *Session) dispatchOne(payload map[string]interface{}) {
	evtType, action := classify(payload, s.profile.CurrentUserID())
	evt := &Event{
		Source:  s,
		Type:    evtType,
		Action:  action,
		Payload: payload,
	}

	s.handlersMu.RLock()
	handler := s.handlers[evtType]
	s.handlersMu.RUnlock()

	if handler != nil {
		s.invokeHandler(handler, evt)
	} else {
		s.log.Debug("no handler for %s, skipping", evtType)
	}

	for _, o := range s.observers {
		s.observeEvent(o, evt)
	}
}

// invokeHandler isolates one handler invocation: a returned error or a panic
// is logged with the offending payload and dispatch moves on.
func (s *Session) invokeHandler(h Handler, evt *Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panic for %s/%s: %v (payload: %v)",
				evt.Type, evt.Action, r, evt.Payload)
		}
	}()

	if err := h(evt); err != nil {
		s.log.Error("handler error for %s/%s: %v (payload: %v)",
			evt.Type, evt.Action, err, evt.Payload)
	}
}

// observeEvent isolates one observer the same way.
func (s *Session) observeEvent(o Observer, evt *Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("observer panic: %v (payload: %v)", r, evt.Payload)
		}
	}()

	o.ObserveEvent(evt)
}
