package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/funnelai/funnel-core/internal/model"
)

func (a *app) cmdFunnel(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	if err := a.funnels.Load(ctx); err != nil {
		return err
	}
	switch args[0] {
	case "list":
		a.printJSON(a.funnels.List())
		return nil
	case "get":
		return a.funnelGet(args[1:])
	case "add":
		return a.funnelAdd(ctx, args[1:])
	case "update":
		return a.funnelUpdate(ctx, args[1:])
	case "rm":
		return a.funnelRemove(ctx, args[1:])
	}
	return errUsage
}

func (a *app) funnelGet(args []string) error {
	fs := a.flags("funnel get")
	id := fs.String("id", "", "funnel id")
	if err := fs.Parse(args); err != nil || *id == "" {
		return errUsage
	}
	f, ok := a.funnels.Get(*id)
	if !ok {
		return fmt.Errorf("funnel %s not found", *id)
	}
	a.printJSON(f)
	return nil
}

func (a *app) funnelAdd(ctx context.Context, args []string) error {
	fs := a.flags("funnel add")
	name := fs.String("name", "", "funnel name")
	typ := fs.String("type", string(model.FunnelLanding), "landing|sales|webinar|lead-magnet")
	status := fs.String("status", string(model.StatusDraft), "draft|published|archived")
	headline := fs.String("headline", "", "headline")
	sub := fs.String("subheadline", "", "subheadline")
	cta := fs.String("cta", "", "call to action")
	desc := fs.String("description", "", "description")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	f, err := a.funnels.Add(ctx, model.FunnelDraft{
		Name:    *name,
		Type:    model.FunnelType(*typ),
		Status:  model.FunnelStatus(*status),
		Content: model.Content{Headline: *headline, Subheadline: *sub, CTA: *cta, Description: *desc},
	})
	if err != nil {
		return err
	}
	a.printJSON(f)
	return nil
}

// funnelUpdate builds a patch from the flags actually given. Analytics and
// content are sent whole, starting from the stored values.
func (a *app) funnelUpdate(ctx context.Context, args []string) error {
	fs := a.flags("funnel update")
	id := fs.String("id", "", "funnel id")
	name := fs.String("name", "", "funnel name")
	typ := fs.String("type", "", "funnel type")
	status := fs.String("status", "", "funnel status")
	views := fs.Int64("views", 0, "view count")
	conv := fs.Int64("conversions", 0, "conversion count")
	rate := fs.Float64("rate", 0, "conversion rate, percent")
	revenue := fs.Float64("revenue", 0, "revenue")
	headline := fs.String("headline", "", "headline")
	sub := fs.String("subheadline", "", "subheadline")
	cta := fs.String("cta", "", "call to action")
	desc := fs.String("description", "", "description")
	if err := fs.Parse(args); err != nil || *id == "" {
		return errUsage
	}

	cur, ok := a.funnels.Get(*id)
	if !ok {
		a.printJSON(struct {
			Outcome model.Outcome `json:"outcome"`
		}{model.OutcomeNotFound})
		return nil
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var p model.FunnelPatch
	if set["name"] {
		p.Name = name
	}
	if set["type"] {
		t := model.FunnelType(*typ)
		p.Type = &t
	}
	if set["status"] {
		s := model.FunnelStatus(*status)
		p.Status = &s
	}
	if set["views"] || set["conversions"] || set["rate"] || set["revenue"] {
		an := cur.Analytics
		if set["views"] {
			an.Views = *views
		}
		if set["conversions"] {
			an.Conversions = *conv
		}
		if set["rate"] {
			an.ConversionRate = *rate
		}
		if set["revenue"] {
			an.Revenue = *revenue
		}
		p.Analytics = &an
	}
	if set["headline"] || set["subheadline"] || set["cta"] || set["description"] {
		c := cur.Content
		for flagName, v := range map[string]*string{"headline": headline, "subheadline": sub, "cta": cta, "description": desc} {
			if set[flagName] {
				ct, _ := model.ParseContentType(flagName)
				*c.Field(ct) = *v
			}
		}
		p.Content = &c
	}
	if p.Empty() {
		return errors.New("nothing to update")
	}

	out, err := a.funnels.Update(ctx, *id, p)
	if err != nil {
		return err
	}
	a.printJSON(struct {
		Outcome model.Outcome `json:"outcome"`
	}{out})
	return nil
}

func (a *app) funnelRemove(ctx context.Context, args []string) error {
	fs := a.flags("funnel rm")
	id := fs.String("id", "", "funnel id")
	if err := fs.Parse(args); err != nil || *id == "" {
		return errUsage
	}
	out, err := a.funnels.Delete(ctx, *id)
	if err != nil {
		return err
	}
	a.printJSON(struct {
		Outcome model.Outcome `json:"outcome"`
	}{out})
	return nil
}
