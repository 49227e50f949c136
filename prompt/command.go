package prompt

// Command is a request from outside the prompt's owner, e.g. the voice
// capture goroutine. Commands are applied in order by Handle.
type Command interface {
	command()
}

type SetText struct{ Text string }

type Submit struct{}

type Close struct{}

func (SetText) command() {}
func (Submit) command()  {}
func (Close) command()   {}

func (p *Prompt) Handle(cmd Command) {
	switch c := cmd.(type) {
	case SetText:
		p.SetValue(c.Text)
	case Submit:
		p.Submit()
	case Close:
		p.Close()
	}
}
