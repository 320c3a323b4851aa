package mesh

// Tessellation is a decomposition of the periodic mesh into tetrahedra:
// every grid cell is cut into six tetrahedra sharing the main diagonal,
// with periodic wraparound at the zone boundary. The tessellation carries
// no free parameter and is consumed by the tetrahedron smearing.
type Tessellation struct {
	Grid Grid
	// Tets lists the four corner point indices of each tetrahedron.
	Tets [][4]int
	// VolumeFraction is the Brillouin-zone volume fraction of one
	// tetrahedron (all tetrahedra have equal volume).
	VolumeFraction float64
}

// sixTets cuts the unit cube into six tetrahedra along the (0,0,0)-(1,1,1)
// diagonal. Corner c is encoded with bit0=x, bit1=y, bit2=z.
var sixTets = [6][4]int{
	{0, 1, 3, 7},
	{0, 1, 5, 7},
	{0, 2, 3, 7},
	{0, 2, 6, 7},
	{0, 4, 5, 7},
	{0, 4, 6, 7},
}

// Tessellate builds the tetrahedron decomposition of the grid.
func Tessellate(g Grid) *Tessellation {
	numCells := g.NumPoints()
	tets := make([][4]int, 0, 6*numCells)

	for k := 0; k < g.N[2]; k++ {
		for j := 0; j < g.N[1]; j++ {
			for i := 0; i < g.N[0]; i++ {
				var corners [8]int
				for c := 0; c < 8; c++ {
					corners[c] = g.Index(i+c&1, j+(c>>1)&1, k+(c>>2)&1)
				}
				for _, t := range sixTets {
					tets = append(tets, [4]int{
						corners[t[0]], corners[t[1]], corners[t[2]], corners[t[3]],
					})
				}
			}
		}
	}

	return &Tessellation{
		Grid:           g,
		Tets:           tets,
		VolumeFraction: 1.0 / float64(6*numCells),
	}
}

// NumTetrahedra returns the number of tetrahedra in the tessellation.
func (t *Tessellation) NumTetrahedra() int { return len(t.Tets) }
