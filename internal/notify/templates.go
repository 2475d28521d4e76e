package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"flowdesk/backend/internal/models"
)

const (
	TemplateAssigned     = "task_assigned"
	TemplateReminder     = "task_reminder"
	TemplateOverdue      = "task_overdue"
	TemplateDailySummary = "daily_summary"
)

// Message is a rendered email ready for a Mailer.
type Message struct {
	Template string
	To       string
	ToName   string
	Subject  string
	HTML     string
}

const layout = `{{define "layout"}}<div style="font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; border: 1px solid #eee; border-radius: 8px; overflow: hidden;">
<h2 style="{{.HeaderStyle}}">{{.Heading}}</h2>
<div style="padding: 30px; background-color: #ffffff;">
<p>Hello <strong>{{.User.Name}}</strong>,</p>
{{template "body" .}}
<div style="text-align: center; margin-top: 30px;">
<a href="{{.DashboardURL}}" style="background-color: {{.ButtonColor}}; color: white; padding: 12px 25px; text-decoration: none; border-radius: 4px; font-weight: bold;">{{.Action}}</a>
</div>
</div>
<div style="padding: 20px; background-color: #f9f9f9; text-align: center; font-size: 12px; color: #888; border-top: 1px solid #eee;">&copy; {{.Year}} FlowDesk - {{.Tagline}}</div>
</div>{{end}}`

var bodies = map[string]string{
	TemplateAssigned: `{{define "body"}}<p>You have been assigned a new task on FlowDesk. Please review the details below:</p>
<div style="background: #f0f7ff; padding: 15px; border-radius: 6px; margin: 20px 0;">
<h3 style="margin-top: 0; color: #0070f3;">{{.Task.Title}}</h3>
<p style="margin: 5px 0;"><strong>Priority:</strong> <span style="display: inline-block; padding: 4px 12px; border-radius: 4px; color: white; font-weight: bold; text-transform: uppercase; font-size: 12px; background-color: {{.BadgeColor}};">{{.Task.Priority}}</span></p>
<p style="margin: 5px 0;"><strong>Deadline:</strong> {{when .Task.Deadline}}</p>
<p style="margin: 5px 0;"><strong>Estimated Time:</strong> {{.Task.TimeRequired}} minutes</p>
<p style="margin: 10px 0 0 0; border-top: 1px solid #ddd; padding-top: 10px;">{{with .Task.Description}}{{.}}{{else}}No description provided.{{end}}</p>
</div>
<p>Click the button below to view the task in your dashboard.</p>{{end}}`,

	TemplateReminder: `{{define "body"}}<p>This is a reminder regarding a pending task that requires your attention.</p>
<div style="background: #fffef0; border-left: 4px solid #ffc107; padding: 15px; margin: 20px 0;">
<h3 style="margin-top: 0;">{{.Task.Title}}</h3>
<p style="margin: 5px 0; color: #d39e00; font-weight: bold;">Time Remaining: {{.TimeLeft}}</p>
<p style="margin: 5px 0;"><strong>Due Date:</strong> {{when .Task.Deadline}}</p>
</div>
<p>Please make sure this task is completed by the scheduled deadline.</p>{{end}}`,

	TemplateOverdue: `{{define "body"}}<p>The following task is past its scheduled deadline and remains incomplete.</p>
<div style="background: #fff5f5; border-left: 4px solid #dc3545; padding: 15px; margin: 20px 0;">
<h3 style="margin-top: 0; color: #dc3545;">{{.Task.Title}}</h3>
<p style="margin: 5px 0;"><strong>Missed Deadline:</strong> {{when .Task.Deadline}}</p>
<p style="margin: 5px 0;"><strong>Status:</strong> <span style="color: #dc3545; font-weight: bold;">OVERDUE</span></p>
</div>
<p>Please update the task status or request an extension from the dashboard.</p>{{end}}`,

	TemplateDailySummary: `{{define "body"}}<p>Here is your summary for {{.Date}}.</p>
<div style="background: #f0f7ff; padding: 15px; border-radius: 6px; margin: 20px 0;">
<h3 style="margin-top: 0; color: #0070f3;">{{.OpenTasks}} open {{if eq .OpenTasks 1}}task{{else}}tasks{{end}}</h3>
<p style="margin: 5px 0;">Tasks that are not yet completed are waiting for you on your dashboard.</p>
</div>{{end}}`,
}

type frame struct {
	Heading     string
	HeaderStyle template.CSS
	ButtonColor template.CSS
	Action      string
	Tagline     string
}

var frames = map[string]frame{
	TemplateAssigned: {
		Heading:     "New Task Assigned",
		HeaderStyle: "background-color: #0070f3; color: white; padding: 20px; text-align: center; margin: 0;",
		ButtonColor: "#0070f3",
		Action:      "View Dashboard",
		Tagline:     "Streamlining your workflow.",
	},
	TemplateReminder: {
		Heading:     "Task Reminder",
		HeaderStyle: "background-color: #ffc107; color: #333; padding: 20px; text-align: center; margin: 0;",
		ButtonColor: "#0070f3",
		Action:      "Update Status",
		Tagline:     "Keeping you on track.",
	},
	TemplateOverdue: {
		Heading:     "Urgent: Task Overdue",
		HeaderStyle: "background-color: #dc3545; color: white; padding: 20px; text-align: center; margin: 0;",
		ButtonColor: "#dc3545",
		Action:      "Resolve Task",
		Tagline:     "Managing critical deadlines.",
	},
	TemplateDailySummary: {
		Heading:     "Your Daily Summary",
		HeaderStyle: "background-color: #0070f3; color: white; padding: 20px; text-align: center; margin: 0;",
		ButtonColor: "#0070f3",
		Action:      "Open Dashboard",
		Tagline:     "Streamlining your workflow.",
	},
}

var badgeColors = map[models.Priority]template.CSS{
	models.PriorityHigh:   "#dc3545",
	models.PriorityMedium: "#ffc107",
	models.PriorityLow:    "#28a745",
}

type view struct {
	frame
	User         models.UserSummary
	Task         *models.Task
	BadgeColor   template.CSS
	TimeLeft     string
	Date         string
	OpenTasks    int
	DashboardURL string
	Year         int
}

// Renderer turns domain data into email messages. Templates are parsed once.
type Renderer struct {
	appURL    string
	templates map[string]*template.Template
	now       func() time.Time
}

func NewRenderer(appURL string) (*Renderer, error) {
	funcs := template.FuncMap{
		"when": func(t time.Time) string {
			return t.UTC().Format("Jan 2, 2006 15:04 MST")
		},
	}

	r := &Renderer{
		appURL:    appURL,
		templates: make(map[string]*template.Template, len(bodies)),
		now:       time.Now,
	}
	for name, body := range bodies {
		tmpl, err := template.New(name).Funcs(funcs).Parse(layout)
		if err != nil {
			return nil, fmt.Errorf("failed to parse layout: %w", err)
		}
		if _, err := tmpl.Parse(body); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

func (r *Renderer) Assigned(user models.UserSummary, task *models.Task) (Message, error) {
	v := r.view(TemplateAssigned, user)
	v.Task = task
	v.BadgeColor = badgeColor(task.Priority)
	return r.render(TemplateAssigned, user, fmt.Sprintf("[FlowDesk] New Task Assigned: %s", task.Title), v)
}

func (r *Renderer) Reminder(user models.UserSummary, task *models.Task, timeLeft string) (Message, error) {
	v := r.view(TemplateReminder, user)
	v.Task = task
	v.TimeLeft = timeLeft
	return r.render(TemplateReminder, user, fmt.Sprintf("[Action Required] Reminder: Task %q deadline approaching", task.Title), v)
}

func (r *Renderer) Overdue(user models.UserSummary, task *models.Task) (Message, error) {
	v := r.view(TemplateOverdue, user)
	v.Task = task
	return r.render(TemplateOverdue, user, fmt.Sprintf("[URGENT] Overdue: Task %q deadline has passed", task.Title), v)
}

func (r *Renderer) DailySummary(user models.UserSummary, openTasks int, date string) (Message, error) {
	v := r.view(TemplateDailySummary, user)
	v.OpenTasks = openTasks
	v.Date = date
	return r.render(TemplateDailySummary, user, fmt.Sprintf("[FlowDesk] Daily summary for %s", date), v)
}

func (r *Renderer) view(name string, user models.UserSummary) view {
	return view{
		frame:        frames[name],
		User:         user,
		DashboardURL: r.appURL + "/dashboard/user",
		Year:         r.now().Year(),
	}
}

func (r *Renderer) render(name string, user models.UserSummary, subject string, v view) (Message, error) {
	var buf bytes.Buffer
	if err := r.templates[name].ExecuteTemplate(&buf, "layout", v); err != nil {
		return Message{}, fmt.Errorf("failed to render %s: %w", name, err)
	}
	return Message{
		Template: name,
		To:       user.Email,
		ToName:   user.Name,
		Subject:  subject,
		HTML:     buf.String(),
	}, nil
}

func badgeColor(p models.Priority) template.CSS {
	if c, ok := badgeColors[p]; ok {
		return c
	}
	return "#6c757d"
}
