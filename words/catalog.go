// Package words is the static word catalog: category key → words that
// non-impostor players may be asked to draw.
package words

import "sort"

// Category is one entry of the catalog.
type Category struct {
	Key   string   `json:"key"`
	Name  string   `json:"name"`
	Words []string `json:"words"`
}

// DefaultCategory is used when a room is created without choosing one.
const DefaultCategory = "comida"

var catalog = map[string]Category{
	"comida": {Key: "comida", Name: "Comida", Words: []string{
		"pizza", "hamburguesa", "manzana", "banana", "helado", "sandwich", "huevo", "queso",
		"pan", "leche", "café", "torta", "carne", "pescado", "arroz",
	}},
	"animales": {Key: "animales", Name: "Animales", Words: []string{
		"perro", "gato", "pájaro", "pez", "conejo", "vaca", "cerdo", "gallina",
		"caballo", "oveja", "pato", "rana", "ratón", "abeja", "mariposa",
	}},
	"objetos": {Key: "objetos", Name: "Objetos", Words: []string{
		"casa", "auto", "bicicleta", "avión", "barco", "tren", "mesa", "silla",
		"cama", "puerta", "ventana", "lámpara", "reloj", "libro", "flor",
	}},
	"deportes": {Key: "deportes", Name: "Deportes", Words: []string{
		"fútbol", "tenis", "natación", "ciclismo", "boxeo", "golf", "básquet", "vóley",
		"hockey", "béisbol", "patinaje", "esquí", "surf", "rugby", "atletismo",
	}},
	"cuerpo": {Key: "cuerpo", Name: "Partes del Cuerpo", Words: []string{
		"cabeza", "ojo", "nariz", "boca", "oreja", "mano", "pie", "brazo",
		"pierna", "dedo", "diente", "cabello", "ceja", "lengua", "cuello",
	}},
	"naturaleza": {Key: "naturaleza", Name: "Naturaleza", Words: []string{
		"sol", "luna", "estrella", "nube", "lluvia", "árbol", "flor", "hoja",
		"montaña", "río", "mar", "arena", "piedra", "fuego", "nieve",
	}},
	"formas": {Key: "formas", Name: "Formas y Colores", Words: []string{
		"círculo", "cuadrado", "triángulo", "rectángulo", "estrella", "corazón", "rojo", "azul",
		"verde", "amarillo", "negro", "blanco", "rosa", "marrón", "naranja",
	}},
}

// Lookup returns the words for a category key.
func Lookup(key string) ([]string, bool) {
	c, ok := catalog[key]
	if !ok {
		return nil, false
	}
	return c.Words, true
}

// Has reports whether key names a category.
func Has(key string) bool {
	_, ok := catalog[key]
	return ok
}

// Categories returns every category sorted by key. The returned slices are
// copies; callers may modify them.
func Categories() []Category {
	out := make([]Category, 0, len(catalog))
	for _, c := range catalog {
		c.Words = append([]string(nil), c.Words...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
