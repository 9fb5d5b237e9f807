package server

import (
	"bytes"
	"text/template"

	"github.com/manash/buildfy/pkg/models"
)

var shadcnTemplate = template.Must(template.New("shadcn").Parse(`import { Button } from "@/components/ui/button";
import { Card, CardContent, CardHeader, CardTitle } from "@/components/ui/card";

// Generated by {{.Model}} from {{.ImageURL}}
export default function App() {
  return (
    <main className="flex min-h-screen items-center justify-center bg-muted p-6">
      <Card className="w-full max-w-md">
        <CardHeader>
          <CardTitle>Book an appointment</CardTitle>
        </CardHeader>
        <CardContent className="space-y-4">
          <p className="text-sm text-muted-foreground">Pick a time that works for you · ✓ instant confirmation</p>
          <Button className="w-full">Continue</Button>
        </CardContent>
      </Card>
    </main>
  );
}
`))

var tailwindTemplate = template.Must(template.New("tailwind").Parse(`// Generated by {{.Model}} from {{.ImageURL}}
export default function App() {
  return (
    <main className="flex min-h-screen items-center justify-center bg-gray-100 p-6">
      <div className="w-full max-w-md rounded-lg bg-white p-6 shadow">
        <h1 className="text-xl font-semibold">Book an appointment</h1>
        <p className="mt-2 text-sm text-gray-500">Pick a time that works for you · ✓ instant confirmation</p>
        <button className="mt-4 w-full rounded bg-blue-600 px-4 py-2 text-white">Continue</button>
      </div>
    </main>
  );
}
`))

// RenderComponent returns the canned component served for req.
func RenderComponent(req *models.GenerateRequest) (string, error) {
	tmpl := tailwindTemplate
	if req.UseComponentLibrary {
		tmpl = shadcnTemplate
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, req); err != nil {
		return "", err
	}
	return buf.String(), nil
}
